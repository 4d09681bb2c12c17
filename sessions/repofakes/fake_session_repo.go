package repofakes

import (
	"context"
	"sync"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo is a thread-safe in-memory sessions.Repo. It implements
// the same version-CAS contract as the durable store and doubles as the
// default store when no data folder is configured.
type FakeSessionRepo struct {
	lock  sync.Mutex
	pairs map[string]*sessions.TokenPair
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		pairs: make(map[string]*sessions.TokenPair),
	}
}

func (sr *FakeSessionRepo) Put(_ context.Context, subject string, pair *sessions.TokenPair, expectedVersion int64) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	current, exists := sr.pairs[subject]
	if !exists {
		if expectedVersion != 0 {
			return autherrors.ErrVersionConflict
		}
	} else if current.Version != expectedVersion {
		return autherrors.ErrVersionConflict
	}

	stored := *pair
	stored.Subject = subject
	stored.Version = expectedVersion + 1
	sr.pairs[subject] = &stored

	pair.Subject = stored.Subject
	pair.Version = stored.Version
	return nil
}

func (sr *FakeSessionRepo) Get(_ context.Context, subject string) (*sessions.TokenPair, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	pair, ok := sr.pairs[subject]
	if !ok {
		return nil, autherrors.ErrNotFound
	}

	pairCopy := *pair
	return &pairCopy, nil
}

func (sr *FakeSessionRepo) Delete(_ context.Context, subject string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	delete(sr.pairs, subject)
	return nil
}
