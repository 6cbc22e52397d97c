// Package upstream implements the HTTP client for the wrapped FHIR store.
// The service holds no resources of its own; every read, search, and write
// is forwarded here. Fetch errors are classified into three sentinel
// categories so callers can distinguish a missing resource from a broken
// store or a nonsensical payload.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
)

var (
	// ErrNotFound means the store answered authoritatively that the
	// resource does not exist (404, 410, or an empty search result).
	ErrNotFound = errors.New("upstream: resource not found")

	// ErrUnreachable covers transport failures, timeouts, auth failures,
	// and any other response that says nothing about resource existence.
	ErrUnreachable = errors.New("upstream: store unreachable")

	// ErrMalformed means the store returned a payload that could not be
	// parsed or is not the requested resource type.
	ErrMalformed = errors.New("upstream: malformed resource payload")
)

// Config carries everything needed to talk to one wrapped store.
type Config struct {
	BaseURL  string
	Provider string
	Timeout  time.Duration
	Auth     *AuthConfig
}

// Result is the raw outcome of a forwarded interaction. Proxy endpoints
// pass the status and body through to their own caller.
type Result struct {
	StatusCode int
	Body       []byte
}

// Client talks to the wrapped FHIR store.
type Client struct {
	baseURL    string
	provider   Provider
	httpClient *http.Client
	tokens     *tokenSource
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the configured store. It fails when the provider
// is unknown, when the provider requires auth but no credentials are
// configured, or when the configured private key cannot be loaded.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	profile, err := ProfileFor(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if profile.RequiresAuth && cfg.Auth == nil {
		return nil, fmt.Errorf("provider %q requires upstream credentials", profile.ID)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		provider: profile,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
	for _, o := range opts {
		o(c)
	}

	if cfg.Auth != nil {
		ts, err := newTokenSource(*cfg.Auth, c.httpClient)
		if err != nil {
			return nil, fmt.Errorf("configure upstream auth: %w", err)
		}
		c.tokens = ts
	}

	return c, nil
}

// Provider returns the profile of the wrapped store.
func (c *Client) Provider() Provider {
	return c.provider
}

// BaseURL returns the store base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes one request against the store. Transport-level failures are
// wrapped in ErrUnreachable; any HTTP response is returned as a Result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*Result, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnreachable, err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: acquire token: %v", ErrUnreachable, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Err(err).
			Msg("upstream request failed")
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("upstream request")

	return &Result{StatusCode: resp.StatusCode, Body: payload}, nil
}

// classify maps a non-2xx response to one of the sentinel error categories.
func classify(method, path string, res *Result) error {
	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s %s returned %d", ErrNotFound, method, path, res.StatusCode)
	default:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnreachable, method, path, res.StatusCode)
	}
}

// checkResourceType verifies the payload parses and carries the expected
// top-level resourceType.
func checkResourceType(payload []byte, resourceType string) error {
	var envelope struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.ResourceType != resourceType {
		return fmt.Errorf("%w: expected %s, got %q", ErrMalformed, resourceType, envelope.ResourceType)
	}
	return nil
}

// Read fetches a single resource by type and logical id. The returned
// payload is the verbatim store representation.
func (c *Client) Read(ctx context.Context, resourceType, id string) (json.RawMessage, error) {
	path := "/" + resourceType + "/" + url.PathEscape(id)
	res, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, classify(http.MethodGet, path, res)
	}
	if err := checkResourceType(res.Body, resourceType); err != nil {
		return nil, err
	}
	return res.Body, nil
}

// SearchOne runs a search and unwraps the first entry of the result set.
// An empty result set is ErrNotFound: for canonical resolution, "no match"
// and "does not exist" are the same answer.
func (c *Client) SearchOne(ctx context.Context, resourceType string, params url.Values) (json.RawMessage, error) {
	path := "/" + resourceType
	res, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, classify(http.MethodGet, path, res)
	}

	var bundle struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(res.Body, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if bundle.ResourceType != "Bundle" {
		return nil, fmt.Errorf("%w: search returned %q instead of a Bundle", ErrMalformed, bundle.ResourceType)
	}
	if len(bundle.Entry) == 0 || len(bundle.Entry[0].Resource) == 0 {
		return nil, fmt.Errorf("%w: no %s matched %s", ErrNotFound, resourceType, params.Encode())
	}
	payload := bundle.Entry[0].Resource
	if err := checkResourceType(payload, resourceType); err != nil {
		return nil, err
	}
	return payload, nil
}

// ResolveCanonical fetches the resource identified by a canonical reference.
// A pinned version becomes an exact url+version search. An unversioned
// reference prefers the most recently updated active resource so repeated
// resolutions stay deterministic for an unchanged store.
func (c *Client) ResolveCanonical(ctx context.Context, resourceType string, ref fhir.CanonicalReference) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("url", ref.URL)
	if ref.Version != "" {
		params.Set("version", ref.Version)
	} else {
		params.Set("status", "active")
		params.Set("_sort", "-_lastUpdated")
		params.Set("_count", "1")
	}
	return c.SearchOne(ctx, resourceType, params)
}

// Search forwards a type-level search and returns the store's response as-is.
func (c *Client) Search(ctx context.Context, resourceType string, params url.Values) (*Result, error) {
	return c.do(ctx, http.MethodGet, "/"+resourceType, params, nil)
}

// Create forwards a create interaction.
func (c *Client) Create(ctx context.Context, resourceType string, body []byte) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/"+resourceType, nil, body)
}

// Update forwards an update interaction.
func (c *Client) Update(ctx context.Context, resourceType, id string, body []byte) (*Result, error) {
	return c.do(ctx, http.MethodPut, "/"+resourceType+"/"+url.PathEscape(id), nil, body)
}

// Delete forwards a delete interaction.
func (c *Client) Delete(ctx context.Context, resourceType, id string) (*Result, error) {
	return c.do(ctx, http.MethodDelete, "/"+resourceType+"/"+url.PathEscape(id), nil, nil)
}

// Ping checks that the store answers its CapabilityStatement endpoint.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.do(ctx, http.MethodGet, "/metadata", nil, nil)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return classify(http.MethodGet, "/metadata", res)
	}
	return nil
}
