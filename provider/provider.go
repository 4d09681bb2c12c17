// Package provider is the client for the external identity provider: OIDC
// endpoint discovery, the one-shot authorization-code exchange, and the
// refresh-token grant.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-gateway/internal/config"
	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
)

// Tokens is the raw result of a token-endpoint call. The subject is not
// known here; callers establish it by verifying the access token.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Client wraps the provider's OAuth2 endpoints with the gateway's timeout
// and error-kind conventions.
type Client struct {
	oauth   *oauth2.Config
	issuer  string
	jwksURL string
	timeout time.Duration
	log     zerolog.Logger
}

type Option func(*Client)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New discovers the provider's endpoints from its issuer URL.
func New(ctx context.Context, cfg config.ProviderConfig, options ...Option) (*Client, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, cfg.GetProviderTimeout())
	defer cancel()

	oidcProvider, err := oidc.NewProvider(discoverCtx, cfg.GetIssuerURL())
	if err != nil {
		return nil, errors.Wrapf(autherrors.ErrUnavailable, "discovering provider %q: %v", cfg.GetIssuerURL(), err)
	}

	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := oidcProvider.Claims(&discovery); err != nil {
		return nil, errors.Wrapf(autherrors.ErrUnavailable, "reading provider discovery document: %v", err)
	}

	// Pin the client-credential style. Auto-detect falls back to a second
	// POST with credentials in the body when the first attempt is refused,
	// which would present a single-use code twice.
	endpoint := oidcProvider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader

	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.GetClientID(),
			ClientSecret: cfg.GetClientSecret(),
			Endpoint:     endpoint,
			RedirectURL:  cfg.GetRedirectURL(),
			Scopes:       cfg.GetScopes(),
		},
		issuer:  cfg.GetIssuerURL(),
		jwksURL: discovery.JWKSURI,
		timeout: cfg.GetProviderTimeout(),
		log:     zerolog.Nop(),
	}

	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Issuer returns the provider's issuer URL, the expected iss claim value.
func (c *Client) Issuer() string {
	return c.issuer
}

// JWKSURL returns the discovered key-set endpoint.
func (c *Client) JWKSURL() string {
	return c.jwksURL
}

// ClientID returns the configured OAuth client id, the expected audience
// of tokens the provider issues to this gateway.
func (c *Client) ClientID() string {
	return c.oauth.ClientID
}

// AuthCodeURL builds the provider's authorization URL for a login
// redirect. Extra options carry the PKCE challenge and nonce parameters.
func (c *Client) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return c.oauth.AuthCodeURL(state, opts...)
}

// Exchange swaps a one-time authorization code for a token pair, proving
// possession of the login's PKCE verifier. Exactly one POST is made;
// codes are single-use, so a failed exchange is never retried here.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.ContainsAny(code, " \t\r\n") {
		return nil, errors.Wrap(autherrors.ErrInvalidRequest, "missing or malformed authorization code")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}

	token, err := c.oauth.Exchange(callCtx, code, opts...)
	if err != nil {
		return nil, c.mapTokenEndpointError("code exchange", err)
	}

	return tokensFromOAuth2(token), nil
}

// Refresh swaps a refresh token for a fresh token pair. Like Exchange this
// is a single attempt; a rejected refresh token is not transient.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, errors.Wrap(autherrors.ErrInvalidRequest, "missing refresh token")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.oauth.TokenSource(callCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, c.mapTokenEndpointError("token refresh", err)
	}

	return tokensFromOAuth2(token), nil
}

func tokensFromOAuth2(token *oauth2.Token) *Tokens {
	return &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

// mapTokenEndpointError separates "the provider said no" from "the
// provider could not be reached". Only the status code is logged; error
// payloads can echo credential material.
func (c *Client) mapTokenEndpointError(operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		c.log.Warn().Str("operation", operation).Int("status", retrieveErr.Response.StatusCode).
			Msg("identity provider rejected token request")
		return errors.Wrapf(autherrors.ErrProviderRejected, "%s: provider returned %d", operation, retrieveErr.Response.StatusCode)
	}

	c.log.Warn().Str("operation", operation).Msg("identity provider unreachable")
	return errors.Wrapf(autherrors.ErrUnavailable, "%s: %v", operation, err)
}
