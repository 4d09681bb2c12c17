// Package refresh serializes access-token refreshes per subject so that
// concurrent requests never present the same refresh token twice.
package refresh

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/provider"
	"github.com/jrsteele09/go-auth-gateway/sessions"
)

// TokenRefresher performs the provider's refresh-token grant.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*provider.Tokens, error)
}

// Coordinator runs at most one refresh per subject at a time. Concurrent
// callers for the same subject join the in-flight attempt and receive its
// outcome; joiners wait at most joinWait so a stuck refresh cannot wedge
// every request for that subject.
type Coordinator struct {
	provider    TokenRefresher
	repo        sessions.Repo
	group       singleflight.Group
	joinWait    time.Duration
	callTimeout time.Duration
	nowFunc     func() time.Time
	log         zerolog.Logger
}

type Option func(*Coordinator)

func WithJoinWait(wait time.Duration) Option {
	return func(c *Coordinator) {
		c.joinWait = wait
	}
}

func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.callTimeout = timeout
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

func New(tokenRefresher TokenRefresher, repo sessions.Repo, options ...Option) *Coordinator {
	c := &Coordinator{
		provider: tokenRefresher,
		repo:     repo,
		log:      zerolog.Nop(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.joinWait == 0 {
		c.joinWait = 10 * time.Second
	}
	if c.callTimeout == 0 {
		c.callTimeout = 15 * time.Second
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	return c
}

// Refresh exchanges the subject's refresh token for a new pair and
// atomically replaces the stored one. A provider rejection tears the
// session down and returns ErrSessionExpired; it is never retried.
func (c *Coordinator) Refresh(ctx context.Context, subject string) (*sessions.TokenPair, error) {
	if subject == "" {
		return nil, errors.Wrap(autherrors.ErrInvalidRequest, "missing subject")
	}

	resultCh := c.group.DoChan(subject, func() (interface{}, error) {
		return c.refresh(subject)
	})

	joinTimer := time.NewTimer(c.joinWait)
	defer joinTimer.Stop()

	select {
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*sessions.TokenPair), nil
	case <-joinTimer.C:
		return nil, errors.Wrap(autherrors.ErrUnavailable, "refresh still in flight after join timeout")
	case <-ctx.Done():
		return nil, errors.Wrapf(autherrors.ErrUnavailable, "waiting for refresh: %v", ctx.Err())
	}
}

// refresh runs on a detached context: joiners share the outcome, so one
// caller disconnecting must not abort the flight for the rest.
func (c *Coordinator) refresh(subject string) (*sessions.TokenPair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	pair, err := c.repo.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return nil, errors.Wrap(autherrors.ErrSessionExpired, "no session to refresh")
		}
		return nil, err
	}

	// A flight that completed while we queued already replaced the pair.
	if !pair.Expired(c.nowFunc()) {
		return pair, nil
	}

	if pair.RefreshToken == "" {
		if deleteErr := c.repo.Delete(ctx, subject); deleteErr != nil {
			c.log.Warn().Str("subject", subject).Msg("failed to delete session without refresh token")
		}
		return nil, errors.Wrap(autherrors.ErrSessionExpired, "session has no refresh token")
	}

	tokens, err := c.provider.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		if errors.Is(err, autherrors.ErrProviderRejected) {
			// Expired, revoked, or already rotated away. Terminal.
			if deleteErr := c.repo.Delete(ctx, subject); deleteErr != nil {
				c.log.Warn().Str("subject", subject).Msg("failed to delete session after rejected refresh")
			}
			c.log.Info().Str("subject", subject).Msg("refresh token rejected, session expired")
			return nil, errors.Wrap(autherrors.ErrSessionExpired, "refresh token rejected by provider")
		}
		return nil, err
	}

	return c.replacePair(ctx, subject, pair, tokens)
}

// replacePair CAS-writes the refreshed pair, retrying a bounded number of
// times when a concurrent writer bumped the version first.
func (c *Coordinator) replacePair(ctx context.Context, subject string, previous *sessions.TokenPair, tokens *provider.Tokens) (*sessions.TokenPair, error) {
	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		// Provider kept the refresh token stable; retain the old one.
		refreshToken = previous.RefreshToken
	}

	newPair := &sessions.TokenPair{
		Subject:      subject,
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}

	expectedVersion := previous.Version
	for attempt := 0; attempt < 3; attempt++ {
		err := c.repo.Put(ctx, subject, newPair, expectedVersion)
		if err == nil {
			c.log.Debug().Str("subject", subject).Int64("version", newPair.Version).Msg("session refreshed")
			return newPair, nil
		}
		if !errors.Is(err, autherrors.ErrVersionConflict) {
			return nil, err
		}

		stored, getErr := c.repo.Get(ctx, subject)
		if getErr != nil {
			if errors.Is(getErr, autherrors.ErrNotFound) {
				return nil, errors.Wrap(autherrors.ErrSessionExpired, "session removed during refresh")
			}
			return nil, getErr
		}
		if !stored.Expired(c.nowFunc()) {
			// A concurrent refresh won the write; its pair is authoritative.
			return stored, nil
		}
		expectedVersion = stored.Version
	}

	return nil, errors.Wrap(autherrors.ErrVersionConflict, "could not replace session token pair")
}
