package backend

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jonwraymond/datacache/auth"
	"github.com/jonwraymond/datacache/observe"
	"github.com/jonwraymond/datacache/secret"
)

// Config holds the HTTP client configuration.
type Config struct {
	// BaseURL is the project URL, e.g. "https://abc.supabase.co".
	BaseURL string

	// APIKey is the project API key sent as the "apikey" header and,
	// when no TokenProvider is set, as the bearer token.
	APIKey string

	// Bucket is the storage bucket signed URLs are minted against.
	// Default: "files".
	Bucket string

	// SignTTL is the lifetime requested for signed URLs.
	// Default: 1h.
	SignTTL time.Duration

	// TokenProvider supplies the per-request bearer token, typically
	// an auth.Session for user-scoped access. Default: the APIKey.
	TokenProvider auth.TokenProvider

	// HTTPClient performs the requests. Default: a 30s-timeout client
	// with retry and circuit breaking on the transport.
	HTTPClient *http.Client

	// Logger receives request-level diagnostics. Default: no-op.
	Logger observe.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}
	if c.SignTTL < 0 {
		return fmt.Errorf("%w: sign TTL must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Environment variables read by ConfigFromEnv. Values may be literal
// or secretref-formatted (e.g. "secretref:env:PROD_SERVICE_KEY").
const (
	EnvBaseURL = "SUPABASE_URL"
	EnvAPIKey  = "SUPABASE_SERVICE_KEY"
	EnvBucket  = "SUPABASE_STORAGE_BUCKET"
)

// ConfigFromEnv builds a Config from the environment, resolving
// secret references through the given resolver.
func ConfigFromEnv(ctx context.Context, resolver *secret.Resolver) (Config, error) {
	resolved, err := resolver.ResolveMap(ctx, map[string]string{
		"base_url": os.Getenv(EnvBaseURL),
		"api_key":  os.Getenv(EnvAPIKey),
		"bucket":   os.Getenv(EnvBucket),
	})
	if err != nil {
		return Config{}, fmt.Errorf("backend: resolve config: %w", err)
	}

	cfg := Config{
		BaseURL: resolved["base_url"],
		APIKey:  resolved["api_key"],
		Bucket:  resolved["bucket"],
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
