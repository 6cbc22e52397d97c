package upstream

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clientAssertionType is the fixed assertion type for the SMART Backend
// Services client_credentials grant (SMART App Launch v2.0, §5).
const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// assertionLifetime bounds the validity of a signed client assertion.
const assertionLifetime = 5 * time.Minute

// tokenExpirySkew renews the cached access token this long before it
// actually expires, so in-flight requests never carry a stale token.
const tokenExpirySkew = 30 * time.Second

// AuthConfig holds the credentials for an upstream that requires
// SMART Backend Services authentication.
type AuthConfig struct {
	TokenURL       string
	ClientID       string
	PrivateKeyFile string
	Scope          string
}

// tokenSource obtains and caches access tokens from the upstream's token
// endpoint using the client_credentials grant with a signed JWT assertion.
type tokenSource struct {
	tokenURL   string
	clientID   string
	scope      string
	privateKey *rsa.PrivateKey
	httpClient *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenSource(cfg AuthConfig, hc *http.Client) (*tokenSource, error) {
	pemBytes, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	scope := cfg.Scope
	if scope == "" {
		scope = "system/*.read"
	}

	return &tokenSource{
		tokenURL:   cfg.TokenURL,
		clientID:   cfg.ClientID,
		scope:      scope,
		privateKey: key,
		httpClient: hc,
	}, nil
}

// Token returns a valid access token, fetching a fresh one when the cached
// token is missing or close to expiry.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expiry.Add(-tokenExpirySkew)) {
		return ts.token, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", ts.scope)
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}

	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	ts.token = tok.AccessToken
	ts.expiry = time.Now().Add(lifetime)

	return ts.token, nil
}

// signAssertion builds and signs the JWT client assertion. iss and sub are
// both the client id; aud is the token endpoint.
func (ts *tokenSource) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": ts.clientID,
		"sub": ts.clientID,
		"aud": ts.tokenURL,
		"exp": now.Add(assertionLifetime).Unix(),
		"iat": now.Unix(),
		"jti": uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS384, claims)
	return token.SignedString(ts.privateKey)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
