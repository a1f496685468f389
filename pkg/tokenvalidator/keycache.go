package tokenvalidator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Default minimum interval between JWKS refreshes
const DefaultMinRefreshInterval = 15 * time.Minute

// KeyCache is a read-through cache of the identity provider's signing keys.
// Refreshes run in a single background task; readers always get the
// last-known-good key set and never block on a refresh in progress.
type KeyCache struct {
	cache   *jwk.Cache
	jwksURL string
	cancel  context.CancelFunc
}

// KeyCacheOption is a function that configures a KeyCache
type KeyCacheOption func(*keyCacheOptions)

type keyCacheOptions struct {
	minRefreshInterval time.Duration
	httpClient         jwk.HTTPClient
}

// WithMinRefreshInterval sets the minimum interval between background refreshes
func WithMinRefreshInterval(interval time.Duration) KeyCacheOption {
	return func(o *keyCacheOptions) {
		o.minRefreshInterval = interval
	}
}

// WithHTTPClient sets the HTTP client used to fetch the JWKS document
func WithHTTPClient(client jwk.HTTPClient) KeyCacheOption {
	return func(o *keyCacheOptions) {
		o.httpClient = client
	}
}

// NewKeyCache creates a key cache for the given JWKS URL and performs the
// initial fetch. A failed initial fetch is logged, not fatal: the background
// refresh keeps retrying and the first successful fetch fills the cache.
// Call Shutdown to stop the refresh task.
func NewKeyCache(ctx context.Context, jwksURL string, opts ...KeyCacheOption) (*KeyCache, error) {
	options := keyCacheOptions{
		minRefreshInterval: DefaultMinRefreshInterval,
	}
	for _, opt := range opts {
		opt(&options)
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	cache := jwk.NewCache(refreshCtx)

	registerOpts := []jwk.RegisterOption{
		jwk.WithMinRefreshInterval(options.minRefreshInterval),
	}
	if options.httpClient != nil {
		registerOpts = append(registerOpts, jwk.WithHTTPClient(options.httpClient))
	}

	if err := cache.Register(jwksURL, registerOpts...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS url: %w", err)
	}

	if _, err := cache.Refresh(refreshCtx, jwksURL); err != nil {
		slog.Warn("Initial JWKS fetch failed, background refresh will retry", "url", jwksURL, "err", err)
	}

	return &KeyCache{
		cache:   cache,
		jwksURL: jwksURL,
		cancel:  cancel,
	}, nil
}

// Keyset returns the current signing key set. If a background refresh is in
// flight the previously fetched set is returned unchanged.
func (kc *KeyCache) Keyset(ctx context.Context) (jwk.Set, error) {
	set, err := kc.cache.Get(ctx, kc.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing keys: %w", err)
	}
	return set, nil
}

// Refresh forces an immediate JWKS fetch. On failure the previously
// fetched set stays in place and keeps serving readers.
func (kc *KeyCache) Refresh(ctx context.Context) error {
	if _, err := kc.cache.Refresh(ctx, kc.jwksURL); err != nil {
		return fmt.Errorf("failed to refresh signing keys: %w", err)
	}
	return nil
}

// Shutdown stops the background refresh task
func (kc *KeyCache) Shutdown() {
	kc.cancel()
}
