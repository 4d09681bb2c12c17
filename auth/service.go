// Package auth orchestrates the token lifecycle: code exchange on login,
// verification on every request, transparent refresh on expiry, and
// teardown on logout.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-gateway/cookie"
	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/provider"
	"github.com/jrsteele09/go-auth-gateway/sessions"
	"github.com/jrsteele09/go-auth-gateway/verifier"
)

// CodeExchanger swaps an authorization code for tokens, presenting the
// login's PKCE verifier alongside the code.
type CodeExchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (*provider.Tokens, error)
}

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*verifier.VerifiedClaims, error)
}

// Refresher replaces a subject's expired token pair.
type Refresher interface {
	Refresh(ctx context.Context, subject string) (*sessions.TokenPair, error)
}

// Service ties the exchanger, verifier, refresher, session store, and
// cookie transport together behind the caller-facing Result contract.
type Service struct {
	exchanger     CodeExchanger
	verifier      TokenVerifier
	refresher     Refresher
	repo          sessions.Repo
	cookies       *cookie.Transport
	maxSessionAge time.Duration
	log           zerolog.Logger
}

type Option func(*Service)

func WithMaxSessionAge(maxAge time.Duration) Option {
	return func(s *Service) {
		s.maxSessionAge = maxAge
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

func New(exchanger CodeExchanger, tokenVerifier TokenVerifier, refresher Refresher, repo sessions.Repo, cookies *cookie.Transport, options ...Option) *Service {
	s := &Service{
		exchanger: exchanger,
		verifier:  tokenVerifier,
		refresher: refresher,
		repo:      repo,
		cookies:   cookies,
		log:       zerolog.Nop(),
	}

	for _, opt := range options {
		opt(s)
	}

	if s.maxSessionAge == 0 {
		s.maxSessionAge = 30 * 24 * time.Hour
	}
	return s
}

// Login exchanges a one-time authorization code, persists the resulting
// token pair, and sets the session cookie. The store is written exactly
// once per successful call; any earlier failure leaves it untouched.
// codeVerifier is the PKCE verifier generated at login initiation; nonce
// is the value sent on the authorization redirect, checked against the
// token when the provider echoes it back.
func (s *Service) Login(ctx context.Context, w http.ResponseWriter, code, codeVerifier, nonce string) (*verifier.VerifiedClaims, error) {
	tokens, err := s.exchanger.Exchange(ctx, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	// The subject comes from verifying the token, never from anything the
	// client sent alongside the code.
	claims, err := s.verifier.Verify(ctx, tokens.AccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "verifying exchanged access token")
	}

	// Replay protection: a token carrying a nonce must carry ours.
	if nonce != "" && claims.Nonce != "" && claims.Nonce != nonce {
		return nil, errors.Wrap(autherrors.ErrInvalidClaims, "nonce mismatch")
	}

	pair := &sessions.TokenPair{
		Subject:      claims.Subject,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if err := s.storePair(ctx, claims.Subject, pair); err != nil {
		return nil, err
	}

	s.cookies.Set(w, claims.Subject, s.maxSessionAge)
	s.log.Info().Str("subject", claims.Subject).Msg("login completed")
	return claims, nil
}

// storePair replaces whatever pair the subject currently has. A login
// always wins over an older session, so version conflicts re-read and
// retry a bounded number of times.
func (s *Service) storePair(ctx context.Context, subject string, pair *sessions.TokenPair) error {
	for attempt := 0; attempt < 3; attempt++ {
		var expectedVersion int64
		existing, err := s.repo.Get(ctx, subject)
		if err != nil && !errors.Is(err, autherrors.ErrNotFound) {
			return err
		}
		if existing != nil {
			expectedVersion = existing.Version
		}

		err = s.repo.Put(ctx, subject, pair, expectedVersion)
		if err == nil {
			return nil
		}
		if !errors.Is(err, autherrors.ErrVersionConflict) {
			return err
		}
	}
	return errors.Wrap(autherrors.ErrVersionConflict, "storing session token pair")
}

// Authenticate establishes who the caller is from the request cookie. An
// expired access token triggers one coordinated refresh; every other
// verification failure is simply "not authenticated".
func (s *Service) Authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) Result {
	subject, err := s.cookies.Read(r)
	if err != nil {
		return unauthenticated(err)
	}

	// The cookie is only a reference; trust comes from verifying the
	// stored token below.
	pair, err := s.repo.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			s.cookies.Clear(w)
			return unauthenticated(err)
		}
		return failure(err)
	}

	claims, err := s.verifier.Verify(ctx, pair.AccessToken)
	if err == nil {
		return authenticated(claims)
	}
	if !errors.Is(err, autherrors.ErrExpiredToken) {
		s.log.Warn().Str("subject", subject).Err(autherrors.Kind(err)).Msg("stored token failed verification")
		return unauthenticated(err)
	}

	return s.refreshAndVerify(ctx, w, subject)
}

func (s *Service) refreshAndVerify(ctx context.Context, w http.ResponseWriter, subject string) Result {
	refreshed, err := s.refresher.Refresh(ctx, subject)
	if err != nil {
		if errors.Is(err, autherrors.ErrSessionExpired) {
			s.cookies.Clear(w)
			return sessionExpired(err)
		}
		return failure(err)
	}

	claims, err := s.verifier.Verify(ctx, refreshed.AccessToken)
	if err != nil {
		return failure(errors.Wrap(err, "verifying refreshed access token"))
	}

	s.cookies.Set(w, subject, s.maxSessionAge)
	return authenticated(claims)
}

// Logout removes the stored session and clears the cookie. Calling it
// without a valid cookie still clears client state.
func (s *Service) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	subject, err := s.cookies.Read(r)
	if err != nil {
		s.cookies.Clear(w)
		return nil
	}

	deleteErr := s.repo.Delete(ctx, subject)
	s.cookies.Clear(w)
	if deleteErr != nil {
		return deleteErr
	}

	s.log.Info().Str("subject", subject).Msg("logout completed")
	return nil
}
