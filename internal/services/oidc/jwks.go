package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	// DefaultJWKSTTL is how long a fetched key set is served from cache
	DefaultJWKSTTL = 1 * time.Hour
	// MinRefreshInterval bounds forced refreshes triggered by unknown kids
	MinRefreshInterval = 30 * time.Second
	// maxJWKSBytes caps the key set response body
	maxJWKSBytes = 1 << 20
)

// JWKSCache is one fetched key set. Entries are never mutated; a refresh
// replaces the whole entry under JWKSManager.mu.
type JWKSCache struct {
	keys      jwk.Set
	fetchedAt time.Time
	expires   time.Time
}

// JWKSManager manages JWKS fetching and caching
type JWKSManager struct {
	cache  map[string]*JWKSCache
	mu     sync.RWMutex
	ttl    time.Duration
	client *http.Client
	now    func() time.Time
}

// JWKSOption configures a JWKSManager
type JWKSOption func(*JWKSManager)

// WithTTL overrides the cache lifetime
func WithTTL(ttl time.Duration) JWKSOption {
	return func(m *JWKSManager) { m.ttl = ttl }
}

// WithHTTPClient overrides the client used to fetch key sets
func WithHTTPClient(client *http.Client) JWKSOption {
	return func(m *JWKSManager) { m.client = client }
}

// NewJWKSManager creates a new JWKS manager
func NewJWKSManager(opts ...JWKSOption) *JWKSManager {
	m := &JWKSManager{
		cache:  make(map[string]*JWKSCache),
		ttl:    DefaultJWKSTTL,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetJWKS retrieves JWKS for a given JWKS URL, with caching
func (m *JWKSManager) GetJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	if keys := m.cached(jwksURL, false); keys != nil {
		return keys, nil
	}
	return m.store(ctx, jwksURL)
}

// RefreshJWKS bypasses the cache TTL, e.g. when a token names an unknown kid.
// Refreshes closer together than MinRefreshInterval are served from cache.
func (m *JWKSManager) RefreshJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	if keys := m.cached(jwksURL, true); keys != nil {
		return keys, nil
	}
	return m.store(ctx, jwksURL)
}

// Run refreshes the key set for jwksURL every interval until ctx is done.
// Fetch failures are reported through onError and the stale set stays in use.
func (m *JWKSManager) Run(ctx context.Context, jwksURL string, interval time.Duration, onError func(error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.store(ctx, jwksURL); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// cached returns the cached set if it is usable. With forced set, the set is
// only reused when it was fetched within MinRefreshInterval.
func (m *JWKSManager) cached(jwksURL string, forced bool) jwk.Set {
	m.mu.RLock()
	cache, exists := m.cache[jwksURL]
	m.mu.RUnlock()
	if !exists || cache.keys == nil {
		return nil
	}
	now := m.now()
	if forced {
		if now.Sub(cache.fetchedAt) < MinRefreshInterval {
			return cache.keys
		}
		return nil
	}
	if now.Before(cache.expires) {
		return cache.keys
	}
	return nil
}

func (m *JWKSManager) store(ctx context.Context, jwksURL string) (jwk.Set, error) {
	keys, err := m.fetchJWKS(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	now := m.now()
	m.mu.Lock()
	m.cache[jwksURL] = &JWKSCache{
		keys:      keys,
		fetchedAt: now,
		expires:   now.Add(m.ttl),
	}
	m.mu.Unlock()

	return keys, nil
}

func (m *JWKSManager) fetchJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	return keys, nil
}
