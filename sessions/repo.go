package sessions

import "context"

// Repo stores the authoritative token pair per subject.
//
// Put is a compare-and-swap: it succeeds only when the stored version
// equals expectedVersion (0 means "no record exists yet"), and on success
// writes the pair with Version = expectedVersion + 1. A racing writer gets
// ErrVersionConflict and must re-read. Get returns ErrNotFound for unknown
// subjects; Delete of an absent subject is a no-op.
type Repo interface {
	Put(ctx context.Context, subject string, pair *TokenPair, expectedVersion int64) error
	Get(ctx context.Context, subject string) (*TokenPair, error)
	Delete(ctx context.Context, subject string) error
}
