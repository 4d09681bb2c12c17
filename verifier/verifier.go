// Package verifier validates bearer tokens against the provider's signing
// keys and the configured issuer and audience.
package verifier

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/keyset"
)

// VerifiedClaims is the trusted output of verification. Downstream
// decisions derive only from this, never from unverified token content.
type VerifiedClaims struct {
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Nonce     string // login replay-protection value, when the provider echoes one
}

// KeyResolver resolves a token's key id to a public signing key.
type KeyResolver interface {
	Key(ctx context.Context, keyID string) (*keyset.SigningKey, error)
}

// Verifier checks a token's signature, algorithm, and claims. It holds no
// per-request state; each Verify call is a pure function of the token and
// the current key cache.
type Verifier struct {
	keys     KeyResolver
	issuer   string
	audience string
	skew     time.Duration
	nowFunc  func() time.Time
}

type Option func(*Verifier)

func WithSkew(skew time.Duration) Option {
	return func(v *Verifier) {
		v.skew = skew
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(v *Verifier) {
		v.nowFunc = now
	}
}

// Asymmetric signing methods accepted from the provider. Symmetric and
// "none" algorithms are rejected before any key lookup so a downgraded
// header can never reach signature verification.
var allowedMethods = map[string]bool{
	"RS256": true,
	"RS384": true,
	"RS512": true,
	"ES256": true,
	"ES384": true,
	"ES512": true,
}

func New(keys KeyResolver, issuer, audience string, options ...Option) *Verifier {
	// Defaults apply before options so WithSkew(0) means "no tolerance",
	// not "use the default".
	v := &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		skew:     60 * time.Second,
		nowFunc:  time.Now,
	}

	for _, opt := range options {
		opt(v)
	}
	return v
}

// Verify parses and validates a raw bearer token, returning its claims.
// Time-bound failures return ErrExpiredToken so callers can distinguish
// "refreshable" from every other rejection.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*VerifiedClaims, error) {
	if rawToken == "" {
		return nil, errors.Wrap(autherrors.ErrMalformed, "empty token")
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}

	token, err := parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		// Algorithm allow-list first: the header is attacker-controlled
		// until the signature checks out.
		if !allowedMethods[t.Method.Alg()] {
			return nil, errors.Wrapf(autherrors.ErrInvalidSignature, "algorithm %q not allowed", t.Method.Alg())
		}

		keyID, ok := t.Header["kid"].(string)
		if !ok || keyID == "" {
			return nil, errors.Wrap(autherrors.ErrMalformed, "token header missing kid")
		}

		key, err := v.keys.Key(ctx, keyID)
		if err != nil {
			return nil, err
		}
		return key.PublicKey, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, autherrors.ErrInvalidSignature
	}

	return v.validateClaims(claims)
}

// classifyParseError maps golang-jwt parse failures onto the gateway's
// error kinds, passing through sentinels raised by the keyfunc.
func classifyParseError(err error) error {
	if kind := autherrors.Kind(err); kind != nil {
		return err
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errors.Wrapf(autherrors.ErrMalformed, "parsing token: %v", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.Wrapf(autherrors.ErrInvalidSignature, "verifying signature: %v", err)
	default:
		return errors.Wrapf(autherrors.ErrMalformed, "parsing token: %v", err)
	}
}

func (v *Verifier) validateClaims(claims jwt.MapClaims) (*VerifiedClaims, error) {
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.Wrap(autherrors.ErrInvalidClaims, "missing subject claim")
	}

	issuer, err := claims.GetIssuer()
	if err != nil || issuer != v.issuer {
		return nil, errors.Wrap(autherrors.ErrInvalidClaims, "issuer mismatch")
	}

	audiences, err := claims.GetAudience()
	if err != nil || !containsAudience(audiences, v.audience) {
		return nil, errors.Wrap(autherrors.ErrInvalidClaims, "audience mismatch")
	}

	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return nil, errors.Wrap(autherrors.ErrInvalidClaims, "missing expiry claim")
	}

	var issuedAt time.Time
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issuedAt = iat.Time
	}

	now := v.nowFunc()
	if !issuedAt.IsZero() && now.Add(v.skew).Before(issuedAt) {
		return nil, errors.Wrap(autherrors.ErrInvalidClaims, "token issued in the future")
	}
	if now.After(expiresAt.Add(v.skew)) {
		return nil, errors.Wrap(autherrors.ErrExpiredToken, "token past expiry")
	}

	nonce, _ := claims["nonce"].(string)

	return &VerifiedClaims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  audiences,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt.Time,
		Nonce:     nonce,
	}, nil
}

func containsAudience(audiences []string, expected string) bool {
	for _, aud := range audiences {
		if aud == expected {
			return true
		}
	}
	return false
}
