package freshness

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/db"
	"github.com/sells-group/profile-service/internal/model"
)

// Checkpoints records how far refresh processing has consumed each upstream
// source, so new-data detection compares against what was actually processed
// rather than wall-clock guesses.
type Checkpoints interface {
	LastChecked(ctx context.Context, source model.SourceKind) (*time.Time, error)
	Record(ctx context.Context, source model.SourceKind, checkedAt time.Time) error
}

// CheckpointStore persists checkpoints in the refresh_checkpoints table.
type CheckpointStore struct {
	pool db.Pool
}

// NewCheckpointStore creates a CheckpointStore backed by the given pool.
func NewCheckpointStore(pool db.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// LastChecked returns the checkpoint for a source, or nil if the source has
// never been processed.
func (s *CheckpointStore) LastChecked(ctx context.Context, source model.SourceKind) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT checked_at FROM refresh_checkpoints WHERE source = $1`,
		string(source),
	).Scan(&t)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "checkpoint: last checked for %s", source)
	}
	return &t, nil
}

// Migrate creates the checkpoint table. The profile store's own migration
// also creates it, but the checkpoint store may ride a different pool.
func (s *CheckpointStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS refresh_checkpoints (
			source TEXT PRIMARY KEY,
			checked_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return eris.Wrap(err, "checkpoint: migrate")
	}
	return nil
}

// Record upserts the checkpoint for a source.
func (s *CheckpointStore) Record(ctx context.Context, source model.SourceKind, checkedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO refresh_checkpoints (source, checked_at, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (source) DO UPDATE SET checked_at = EXCLUDED.checked_at, updated_at = now()`,
		string(source), checkedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: record for %s", source)
	}
	return nil
}
