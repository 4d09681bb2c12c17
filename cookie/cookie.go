// Package cookie carries the session reference between requests. Cookies
// are HttpOnly and Secure by construction and their value is an
// HMAC-signed opaque reference, never raw token material.
package cookie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
)

const minSecretLength = 32

// Transport issues, reads, and clears the gateway's session cookie. The
// security attributes are fixed at construction; there is no way to issue
// a scriptable or plaintext-transport cookie through this type.
type Transport struct {
	name     string
	path     string
	domain   string
	sameSite http.SameSite
	secret   []byte
}

type Option func(*Transport)

func WithDomain(domain string) Option {
	return func(t *Transport) {
		t.domain = domain
	}
}

func WithPath(path string) Option {
	return func(t *Transport) {
		t.path = path
	}
}

// WithSameSite accepts Strict or Lax only; New rejects anything weaker.
func WithSameSite(sameSite http.SameSite) Option {
	return func(t *Transport) {
		t.sameSite = sameSite
	}
}

func New(name string, secret []byte, options ...Option) (*Transport, error) {
	if name == "" {
		return nil, errors.New("cookie name is required")
	}
	if len(secret) < minSecretLength {
		return nil, errors.Errorf("cookie secret must be at least %d bytes", minSecretLength)
	}

	t := &Transport{
		name:     name,
		path:     "/",
		sameSite: http.SameSiteLaxMode,
		secret:   secret,
	}

	for _, opt := range options {
		opt(t)
	}

	if t.sameSite != http.SameSiteLaxMode && t.sameSite != http.SameSiteStrictMode {
		return nil, errors.New("session cookies require SameSite Strict or Lax")
	}
	return t, nil
}

// Issue builds the session cookie for a subject reference. The value is
// base64url(subject) + "." + HMAC so a forged reference fails Read before
// any store lookup.
func (t *Transport) Issue(subject string, maxAge time.Duration) *http.Cookie {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(subject))
	return &http.Cookie{
		Name:     t.name,
		Value:    encoded + "." + t.sign(subject),
		Path:     t.path,
		Domain:   t.domain,
		HttpOnly: true,
		Secure:   true,
		SameSite: t.sameSite,
		MaxAge:   int(maxAge.Seconds()),
	}
}

// Set writes the session cookie onto a response.
func (t *Transport) Set(w http.ResponseWriter, subject string, maxAge time.Duration) {
	http.SetCookie(w, t.Issue(subject, maxAge))
}

// Read extracts and authenticates the subject reference from a request.
func (t *Transport) Read(r *http.Request) (string, error) {
	c, err := r.Cookie(t.name)
	if err != nil {
		return "", errors.Wrap(autherrors.ErrMissingCookie, "no session cookie on request")
	}

	encoded, mac, found := strings.Cut(c.Value, ".")
	if !found {
		return "", errors.Wrap(autherrors.ErrMalformed, "session cookie missing signature")
	}

	subjectBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(autherrors.ErrMalformed, "session cookie not decodable")
	}

	subject := string(subjectBytes)
	if !hmac.Equal([]byte(mac), []byte(t.sign(subject))) {
		return "", errors.Wrap(autherrors.ErrMalformed, "session cookie signature mismatch")
	}
	return subject, nil
}

// Expired returns an immediately-expiring cookie with the same name, path,
// and domain as issued cookies, so clients actually remove theirs.
func (t *Transport) Expired() *http.Cookie {
	return &http.Cookie{
		Name:     t.name,
		Value:    "",
		Path:     t.path,
		Domain:   t.domain,
		HttpOnly: true,
		Secure:   true,
		SameSite: t.sameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}

// Clear writes the expiring cookie onto a response. Safe to call on an
// already-cleared session.
func (t *Transport) Clear(w http.ResponseWriter) {
	http.SetCookie(w, t.Expired())
}

func (t *Transport) sign(subject string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(t.name))
	mac.Write([]byte{0})
	mac.Write([]byte(subject))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
