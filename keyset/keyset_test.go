package keyset_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/keyset"
)

// jwksServer serves a swappable key set and counts fetches.
type jwksServer struct {
	server  *httptest.Server
	fetches atomic.Int64
	delay   time.Duration

	mu   sync.Mutex
	keys keyset.JWKS
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()

	js := &jwksServer{}
	js.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		js.fetches.Add(1)
		if js.delay > 0 {
			time.Sleep(js.delay)
		}
		js.mu.Lock()
		defer js.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(js.keys))
	}))
	t.Cleanup(js.server.Close)
	return js
}

func (js *jwksServer) setKeys(keys ...keyset.JWK) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.keys = keyset.JWKS{Keys: keys}
}

func newRSAJWK(t *testing.T, kid string) (keyset.JWK, *rsa.PrivateKey) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return keyset.JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}, privateKey
}

func TestKeyCacheHitAvoidsRefetch(t *testing.T) {
	js := newJWKSServer(t)
	jwk, _ := newRSAJWK(t, "key-1")
	js.setKeys(jwk)

	cache := keyset.New(js.server.URL)

	key, err := cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, "key-1", key.KeyID)
	require.NotNil(t, key.PublicKey)
	require.EqualValues(t, 1, js.fetches.Load())

	_, err = cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, js.fetches.Load())
}

func TestKeyRotationTriggersSingleRefetch(t *testing.T) {
	js := newJWKSServer(t)
	oldJWK, _ := newRSAJWK(t, "old-key")
	js.setKeys(oldJWK)

	cache := keyset.New(js.server.URL)

	_, err := cache.Key(context.Background(), "old-key")
	require.NoError(t, err)

	newJWK, _ := newRSAJWK(t, "new-key")
	js.setKeys(newJWK)

	key, err := cache.Key(context.Background(), "new-key")
	require.NoError(t, err)
	require.Equal(t, "new-key", key.KeyID)
	require.EqualValues(t, 2, js.fetches.Load())

	// The rotated-out key was dropped with the replaced set.
	_, err = cache.Key(context.Background(), "old-key")
	require.ErrorIs(t, err, autherrors.ErrUnknownKey)
}

func TestUnknownKeyFetchesOnceThenFails(t *testing.T) {
	js := newJWKSServer(t)
	jwk, _ := newRSAJWK(t, "key-1")
	js.setKeys(jwk)

	cache := keyset.New(js.server.URL)

	_, err := cache.Key(context.Background(), "no-such-key")
	require.ErrorIs(t, err, autherrors.ErrUnknownKey)
	require.EqualValues(t, 1, js.fetches.Load())
}

func TestConcurrentLookupsCoalesce(t *testing.T) {
	js := newJWKSServer(t)
	js.delay = 100 * time.Millisecond
	jwk, _ := newRSAJWK(t, "key-1")
	js.setKeys(jwk)

	cache := keyset.New(js.server.URL)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = cache.Key(context.Background(), "key-1")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, js.fetches.Load())
}

func TestExpiredCacheRefetches(t *testing.T) {
	js := newJWKSServer(t)
	jwk, _ := newRSAJWK(t, "key-1")
	js.setKeys(jwk)

	now := time.Now()
	cache := keyset.New(js.server.URL,
		keyset.WithTTL(time.Minute),
		keyset.WithNowFunc(func() time.Time { return now }),
	)

	_, err := cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, js.fetches.Load())

	now = now.Add(2 * time.Minute)

	_, err = cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, js.fetches.Load())
}

func TestFetchFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cache := keyset.New(server.URL)

	_, err := cache.Key(context.Background(), "key-1")
	require.ErrorIs(t, err, autherrors.ErrUnavailable)
}
