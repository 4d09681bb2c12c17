package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-gateway/internal/config"
	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/provider"
)

// fakeIdP is a minimal OIDC provider: a discovery document rooted at the
// test server URL and a token endpoint serving both grants.
type fakeIdP struct {
	server     *httptest.Server
	tokenCalls atomic.Int64

	rejectWith int // non-zero: token endpoint answers with this status

	mu               sync.Mutex
	lastCodeVerifier string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	idp := &fakeIdP{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 idp.server.URL,
			"authorization_endpoint": idp.server.URL + "/authorize",
			"token_endpoint":         idp.server.URL + "/token",
			"jwks_uri":               idp.server.URL + "/keys",
		}))
	})

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		idp.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		idp.mu.Lock()
		idp.lastCodeVerifier = r.PostFormValue("code_verifier")
		idp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if idp.rejectWith != 0 {
			w.WriteHeader(idp.rejectWith)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}

		response := map[string]any{
			"access_token": "issued-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if r.PostFormValue("grant_type") == "authorization_code" {
			response["refresh_token"] = "issued-refresh"
		}
		require.NoError(t, json.NewEncoder(w).Encode(response))
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

type testProviderConfig struct {
	config.Provider
	issuerURL string
}

func (c testProviderConfig) GetIssuerURL() string    { return c.issuerURL }
func (c testProviderConfig) GetClientID() string     { return "gateway-client" }
func (c testProviderConfig) GetClientSecret() string { return "gateway-secret" }
func (c testProviderConfig) GetRedirectURL() string {
	return "https://app.example.com/auth/callback"
}

func newClient(t *testing.T, idp *fakeIdP) *provider.Client {
	t.Helper()
	client, err := provider.New(context.Background(), testProviderConfig{issuerURL: idp.server.URL})
	require.NoError(t, err)
	return client
}

func TestDiscovery(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)

	require.Equal(t, idp.server.URL, client.Issuer())
	require.Equal(t, idp.server.URL+"/keys", client.JWKSURL())
	require.Equal(t, "gateway-client", client.ClientID())
}

func TestDiscoveryFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := provider.New(context.Background(), testProviderConfig{issuerURL: server.URL})
	require.ErrorIs(t, err, autherrors.ErrUnavailable)
}

func TestAuthCodeURL(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)

	authURL, err := url.Parse(client.AuthCodeURL("state-123"))
	require.NoError(t, err)
	require.Equal(t, "/authorize", authURL.Path)
	require.Equal(t, "state-123", authURL.Query().Get("state"))
	require.Equal(t, "gateway-client", authURL.Query().Get("client_id"))
	require.Contains(t, authURL.Query().Get("scope"), "offline_access")
}

func TestExchange(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)

	tokens, err := client.Exchange(context.Background(), "auth-code-1", "")
	require.NoError(t, err)
	require.Equal(t, "issued-access", tokens.AccessToken)
	require.Equal(t, "issued-refresh", tokens.RefreshToken)
	require.WithinDuration(t, time.Now().Add(time.Hour), tokens.ExpiresAt, time.Minute)
	require.EqualValues(t, 1, idp.tokenCalls.Load())
}

func TestExchangeRejectsBadCodes(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)

	for _, code := range []string{"", "   ", "code with spaces"} {
		_, err := client.Exchange(context.Background(), code, "")
		require.ErrorIs(t, err, autherrors.ErrInvalidRequest)
	}
	require.EqualValues(t, 0, idp.tokenCalls.Load())
}

func TestExchangeProviderRejectionIsNotRetried(t *testing.T) {
	idp := newFakeIdP(t)
	idp.rejectWith = http.StatusBadRequest
	client := newClient(t, idp)

	// A rejected exchange must burn exactly one POST: the code is
	// single-use, so a credential-style fallback retry would present it
	// a second time.
	_, err := client.Exchange(context.Background(), "used-code", "")
	require.ErrorIs(t, err, autherrors.ErrProviderRejected)
	require.EqualValues(t, 1, idp.tokenCalls.Load())
}

func TestExchangeForwardsCodeVerifier(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)

	_, err := client.Exchange(context.Background(), "auth-code-1", "pkce-verifier-1")
	require.NoError(t, err)

	idp.mu.Lock()
	defer idp.mu.Unlock()
	require.Equal(t, "pkce-verifier-1", idp.lastCodeVerifier)
}

func TestRefresh(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)

	tokens, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "issued-access", tokens.AccessToken)
	// This provider keeps refresh tokens stable; the presented token
	// carries through when the response omits a replacement.
	require.Equal(t, "refresh-1", tokens.RefreshToken)
}

func TestRefreshRejection(t *testing.T) {
	idp := newFakeIdP(t)
	idp.rejectWith = http.StatusBadRequest
	client := newClient(t, idp)

	_, err := client.Refresh(context.Background(), "revoked-refresh")
	require.ErrorIs(t, err, autherrors.ErrProviderRejected)
	require.EqualValues(t, 1, idp.tokenCalls.Load())
}

func TestRefreshWithoutToken(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)

	_, err := client.Refresh(context.Background(), " ")
	require.ErrorIs(t, err, autherrors.ErrInvalidRequest)
	require.EqualValues(t, 0, idp.tokenCalls.Load())
}

func TestUnreachableTokenEndpointIsUnavailable(t *testing.T) {
	idp := newFakeIdP(t)
	client := newClient(t, idp)
	idp.server.Close()

	_, err := client.Exchange(context.Background(), "auth-code-1", "")
	require.ErrorIs(t, err, autherrors.ErrUnavailable)
}
