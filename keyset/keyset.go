// Package keyset fetches and caches the identity provider's published
// signing keys, keyed by key id, with rotation-aware refetching.
package keyset

import (
	"context"
	"crypto"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
)

// SigningKey is a cached public signing key from the provider's key set.
type SigningKey struct {
	KeyID     string
	PublicKey crypto.PublicKey
	Algorithm string
	FetchedAt time.Time
}

// Cache holds the provider's key set. A lookup for an unseen or rotated-in
// key id triggers exactly one refetch of the whole set; key ids still
// absent after a successful fetch are reported as unknown without further
// retries. Concurrent lookups needing a fetch collapse into one request.
type Cache struct {
	url     string
	client  *http.Client
	ttl     time.Duration
	nowFunc func() time.Time
	log     zerolog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]SigningKey
	fetchedAt time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New creates a key cache for the given JWKS URL.
func New(jwksURL string, options ...Option) *Cache {
	c := &Cache{
		url:  jwksURL,
		keys: make(map[string]SigningKey),
		log:  zerolog.Nop(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.ttl == 0 {
		c.ttl = 15 * time.Minute
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	return c
}

// Key resolves a key id to a cached signing key, fetching the provider's
// key set when the id is unseen or the cache has gone stale.
func (c *Cache) Key(ctx context.Context, keyID string) (*SigningKey, error) {
	if key, ok := c.cachedKey(keyID); ok {
		return key, nil
	}

	if err := c.refetch(ctx); err != nil {
		return nil, err
	}

	if key, ok := c.lookup(keyID); ok {
		return key, nil
	}
	return nil, errors.Wrapf(autherrors.ErrUnknownKey, "key id %q not in provider key set", keyID)
}

// cachedKey returns the key only while the cached set is within its TTL.
func (c *Cache) cachedKey(keyID string) (*SigningKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.keys[keyID]
	if !ok {
		return nil, false
	}
	if c.nowFunc().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	keyCopy := key
	return &keyCopy, true
}

// lookup returns the key regardless of TTL, for use right after a fetch.
func (c *Cache) lookup(keyID string) (*SigningKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.keys[keyID]
	if !ok {
		return nil, false
	}
	keyCopy := key
	return &keyCopy, true
}

// refetch performs one fetch of the provider's key set, coalescing
// concurrent callers into a single outbound request.
func (c *Cache) refetch(ctx context.Context) error {
	_, err, _ := c.group.Do("jwks", func() (interface{}, error) {
		return nil, c.fetch(ctx)
	})
	return err
}

func (c *Cache) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return errors.Wrapf(autherrors.ErrUnavailable, "building key set request: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(autherrors.ErrUnavailable, "fetching key set: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(autherrors.ErrUnavailable, "key set endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(autherrors.ErrUnavailable, "reading key set response: %v", err)
	}

	var set JWKS
	if err := json.Unmarshal(body, &set); err != nil {
		return errors.Wrapf(autherrors.ErrUnavailable, "decoding key set response: %v", err)
	}

	now := c.nowFunc()
	keys := make(map[string]SigningKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		publicKey, err := jwk.PublicKey()
		if err != nil {
			c.log.Warn().Str("kid", jwk.Kid).Msg("skipping unparseable key in provider key set")
			continue
		}
		keys[jwk.Kid] = SigningKey{
			KeyID:     jwk.Kid,
			PublicKey: publicKey,
			Algorithm: jwk.Alg,
			FetchedAt: now,
		}
	}

	// The whole response replaces the cache, so rotation both adds new
	// keys and drops retired ones.
	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = now
	c.mu.Unlock()

	c.log.Debug().Int("keys", len(keys)).Msg("refreshed provider key set")
	return nil
}
