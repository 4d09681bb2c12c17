package verifier_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/keyset"
	"github.com/jrsteele09/go-auth-gateway/verifier"
)

const (
	testIssuer   = "https://idp.example.com"
	testAudience = "gateway-client"
	testKeyID    = "test-key"
)

var signingKey *rsa.PrivateKey

func init() {
	var err error
	signingKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
}

// staticResolver serves the package signing key for one key id and reports
// every other id as unknown, the way the key cache does after a fetch.
type staticResolver struct{}

func (staticResolver) Key(_ context.Context, keyID string) (*keyset.SigningKey, error) {
	if keyID != testKeyID {
		return nil, autherrors.ErrUnknownKey
	}
	return &keyset.SigningKey{
		KeyID:     testKeyID,
		PublicKey: &signingKey.PublicKey,
		Algorithm: "RS256",
	}, nil
}

type claimsOverride func(jwt.MapClaims)

func mintToken(t *testing.T, now time.Time, overrides ...claimsOverride) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"aud": testAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for _, override := range overrides {
		override(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID

	signed, err := token.SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

func newVerifier(now time.Time, options ...verifier.Option) *verifier.Verifier {
	options = append([]verifier.Option{
		verifier.WithNowFunc(func() time.Time { return now }),
	}, options...)
	return verifier.New(staticResolver{}, testIssuer, testAudience, options...)
}

func TestVerifyValidToken(t *testing.T) {
	now := time.Now()
	v := newVerifier(now)

	claims, err := v.Verify(context.Background(), mintToken(t, now))
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, testIssuer, claims.Issuer)
	require.Contains(t, claims.Audience, testAudience)
	require.Empty(t, claims.Nonce)
}

func TestVerifyCarriesNonce(t *testing.T) {
	now := time.Now()
	v := newVerifier(now)

	token := mintToken(t, now, func(c jwt.MapClaims) { c["nonce"] = "nonce-1" })
	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "nonce-1", claims.Nonce)
}

func TestVerifyRejections(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		token    func(t *testing.T) string
		wantKind error
	}{
		{
			name:     "empty token",
			token:    func(_ *testing.T) string { return "" },
			wantKind: autherrors.ErrMalformed,
		},
		{
			name:     "not a token",
			token:    func(_ *testing.T) string { return "not.a.token" },
			wantKind: autherrors.ErrMalformed,
		},
		{
			name: "tampered payload",
			token: func(t *testing.T) string {
				signed := mintToken(t, now)
				return signed[:len(signed)-6] + "AAAAAA"
			},
			wantKind: autherrors.ErrInvalidSignature,
		},
		{
			name: "unknown key id",
			token: func(t *testing.T) string {
				token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
					"sub": "user-1",
					"iss": testIssuer,
					"aud": testAudience,
					"exp": now.Add(time.Hour).Unix(),
				})
				token.Header["kid"] = "retired-key"
				signed, err := token.SignedString(signingKey)
				require.NoError(t, err)
				return signed
			},
			wantKind: autherrors.ErrUnknownKey,
		},
		{
			name: "symmetric algorithm refused before key lookup",
			token: func(t *testing.T) string {
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
					"sub": "user-1",
					"iss": testIssuer,
					"aud": testAudience,
					"exp": now.Add(time.Hour).Unix(),
				})
				token.Header["kid"] = testKeyID
				signed, err := token.SignedString([]byte("shared-secret"))
				require.NoError(t, err)
				return signed
			},
			wantKind: autherrors.ErrInvalidSignature,
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				return mintToken(t, now, func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" })
			},
			wantKind: autherrors.ErrInvalidClaims,
		},
		{
			name: "wrong audience",
			token: func(t *testing.T) string {
				return mintToken(t, now, func(c jwt.MapClaims) { c["aud"] = "other-client" })
			},
			wantKind: autherrors.ErrInvalidClaims,
		},
		{
			name: "missing subject",
			token: func(t *testing.T) string {
				return mintToken(t, now, func(c jwt.MapClaims) { delete(c, "sub") })
			},
			wantKind: autherrors.ErrInvalidClaims,
		},
		{
			name: "missing expiry",
			token: func(t *testing.T) string {
				return mintToken(t, now, func(c jwt.MapClaims) { delete(c, "exp") })
			},
			wantKind: autherrors.ErrInvalidClaims,
		},
		{
			name: "issued in the future",
			token: func(t *testing.T) string {
				return mintToken(t, now, func(c jwt.MapClaims) { c["iat"] = now.Add(time.Hour).Unix() })
			},
			wantKind: autherrors.ErrInvalidClaims,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return mintToken(t, now, func(c jwt.MapClaims) { c["exp"] = now.Add(-2 * time.Minute).Unix() })
			},
			wantKind: autherrors.ErrExpiredToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := newVerifier(now)
			_, err := v.Verify(context.Background(), tc.token(t))
			require.ErrorIs(t, err, tc.wantKind)
		})
	}
}

func TestExpiryBoundary(t *testing.T) {
	now := time.Now()

	// With no tolerance, a token one second past its expiry is expired.
	strict := newVerifier(now, verifier.WithSkew(0))
	token := mintToken(t, now, func(c jwt.MapClaims) {
		c["exp"] = now.Add(-time.Second).Unix()
	})
	_, err := strict.Verify(context.Background(), token)
	require.ErrorIs(t, err, autherrors.ErrExpiredToken)

	// The default tolerance absorbs the same one second of drift.
	lenient := newVerifier(now)
	_, err = lenient.Verify(context.Background(), token)
	require.NoError(t, err)
}

func TestExpiredTokenWithBadClaimsIsNotRefreshable(t *testing.T) {
	now := time.Now()
	v := newVerifier(now)

	// A token that is both expired and for the wrong audience must report
	// the claims failure, or a caller would try to refresh a token that
	// could never verify.
	token := mintToken(t, now, func(c jwt.MapClaims) {
		c["aud"] = "other-client"
		c["exp"] = now.Add(-2 * time.Minute).Unix()
	})
	_, err := v.Verify(context.Background(), token)
	require.ErrorIs(t, err, autherrors.ErrInvalidClaims)
}
