package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	FHIRBaseURL        string   `mapstructure:"FHIR_BASE_URL"`
	FHIRProvider       string   `mapstructure:"FHIR_PROVIDER"`
	FHIRTimeout        int      `mapstructure:"FHIR_TIMEOUT"`
	AuthTokenURL       string   `mapstructure:"AUTH_TOKEN_URL"`
	AuthClientID       string   `mapstructure:"AUTH_CLIENT_ID"`
	AuthPrivateKeyFile string   `mapstructure:"AUTH_PRIVATE_KEY_FILE"`
	AuthScope          string   `mapstructure:"AUTH_SCOPE"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	MaxPackageEntries  int      `mapstructure:"MAX_PACKAGE_ENTRIES"`
	MaxPackageBytes    int64    `mapstructure:"MAX_PACKAGE_BYTES"`
	TLSEnabled         bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string   `mapstructure:"TLS_KEY_FILE"`
}

// knownProviders are the upstream FHIR store flavors the service can wrap.
var knownProviders = map[string]bool{
	"hapi":   true,
	"aidbox": true,
	"azure":  true,
	"firely": true,
	"smile":  true,
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("FHIR_BASE_URL", "http://hapi-fhir:8080/fhir")
	v.SetDefault("FHIR_PROVIDER", "hapi")
	v.SetDefault("FHIR_TIMEOUT", 30)
	v.SetDefault("AUTH_SCOPE", "system/*.read")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("MAX_PACKAGE_ENTRIES", 100)
	v.SetDefault("MAX_PACKAGE_BYTES", 20*1024*1024)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("FHIR_PROVIDER")
	v.BindEnv("FHIR_TIMEOUT")
	v.BindEnv("AUTH_TOKEN_URL")
	v.BindEnv("AUTH_CLIENT_ID")
	v.BindEnv("AUTH_PRIVATE_KEY_FILE")
	v.BindEnv("AUTH_SCOPE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("MAX_PACKAGE_ENTRIES")
	v.BindEnv("MAX_PACKAGE_BYTES")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Timeout returns the per-request deadline for calls to the wrapped store.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.FHIRTimeout) * time.Second
}

// HasAuth reports whether upstream credentials are configured.
func (c *Config) HasAuth() bool {
	return c.AuthTokenURL != "" || c.AuthClientID != "" || c.AuthPrivateKeyFile != ""
}

// Validate checks that the configuration is safe to run. FHIR_BASE_URL must
// be an absolute http(s) URL, the provider must be a known flavor, and when
// any upstream credential is set the full triple must be present. A $package
// resolution can fan out into many upstream fetches, so the timeout and
// package limits must be positive.
func (c *Config) Validate() error {
	u, err := url.Parse(c.FHIRBaseURL)
	if err != nil {
		return fmt.Errorf("FHIR_BASE_URL is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("FHIR_BASE_URL must be an absolute http(s) URL, got %q", c.FHIRBaseURL)
	}

	if !knownProviders[c.FHIRProvider] {
		return fmt.Errorf("FHIR_PROVIDER must be one of \"hapi\", \"aidbox\", \"azure\", \"firely\", or \"smile\", got %q", c.FHIRProvider)
	}

	if c.FHIRTimeout <= 0 {
		return fmt.Errorf("FHIR_TIMEOUT must be positive, got %d", c.FHIRTimeout)
	}
	if c.MaxPackageEntries <= 0 {
		return fmt.Errorf("MAX_PACKAGE_ENTRIES must be positive, got %d", c.MaxPackageEntries)
	}
	if c.MaxPackageBytes <= 0 {
		return fmt.Errorf("MAX_PACKAGE_BYTES must be positive, got %d", c.MaxPackageBytes)
	}

	if c.HasAuth() {
		if c.AuthTokenURL == "" {
			return fmt.Errorf("AUTH_TOKEN_URL is required when upstream credentials are configured")
		}
		if c.AuthClientID == "" {
			return fmt.Errorf("AUTH_CLIENT_ID is required when upstream credentials are configured")
		}
		if c.AuthPrivateKeyFile == "" {
			return fmt.Errorf("AUTH_PRIVATE_KEY_FILE is required when upstream credentials are configured")
		}
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
