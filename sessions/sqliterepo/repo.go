// Package sqliterepo provides durable SQLite persistence for session
// token pairs.
package sqliterepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/sessions"
)

var _ sessions.Repo = (*Repo)(nil)

// Repo stores token pairs in SQLite with optimistic-concurrency writes.
type Repo struct {
	db *sql.DB
}

// New opens (or creates) the session database at the given path.
func New(dbPath string) (*Repo, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "opening session database")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging session database")
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			subject       TEXT PRIMARY KEY,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at    INTEGER NOT NULL,
			version       INTEGER NOT NULL
		);`,
	); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initialising sessions schema")
	}

	return &Repo{db: db}, nil
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) Put(ctx context.Context, subject string, pair *sessions.TokenPair, expectedVersion int64) error {
	var result sql.Result
	var err error

	if expectedVersion == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO sessions (subject, access_token, refresh_token, expires_at, version)
			VALUES (?, ?, ?, ?, 1)`,
			subject, pair.AccessToken, pair.RefreshToken, pair.ExpiresAt.UTC().UnixMilli(),
		)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE sessions
			SET access_token = ?, refresh_token = ?, expires_at = ?, version = version + 1
			WHERE subject = ? AND version = ?`,
			pair.AccessToken, pair.RefreshToken, pair.ExpiresAt.UTC().UnixMilli(), subject, expectedVersion,
		)
	}
	if err != nil {
		return errors.Wrapf(autherrors.ErrUnavailable, "writing session: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(autherrors.ErrUnavailable, "checking session write: %v", err)
	}
	if affected == 0 {
		return autherrors.ErrVersionConflict
	}

	pair.Subject = subject
	pair.Version = expectedVersion + 1
	return nil
}

func (r *Repo) Get(ctx context.Context, subject string) (*sessions.TokenPair, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, version
		FROM sessions WHERE subject = ?`, subject,
	)

	var pair sessions.TokenPair
	var expiresAt int64
	if err := row.Scan(&pair.AccessToken, &pair.RefreshToken, &expiresAt, &pair.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherrors.ErrNotFound
		}
		return nil, errors.Wrapf(autherrors.ErrUnavailable, "reading session: %v", err)
	}

	pair.Subject = subject
	pair.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &pair, nil
}

func (r *Repo) Delete(ctx context.Context, subject string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE subject = ?`, subject); err != nil {
		return errors.Wrapf(autherrors.ErrUnavailable, "deleting session: %v", err)
	}
	return nil
}
