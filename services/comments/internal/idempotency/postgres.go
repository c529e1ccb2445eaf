package idempotency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore keeps keys in comment_request_keys (see the store schema).
// created_at is reset by Complete, so it measures the lifetime of whichever
// state the row is in.
type postgresStore struct {
	pool *pgxpool.Pool
	ttl  lifetimes
	now  func() time.Time
}

func newPostgresStore(pool *pgxpool.Pool, ttl lifetimes) *postgresStore {
	return &postgresStore{pool: pool, ttl: ttl, now: time.Now}
}

func (s *postgresStore) Begin(ctx context.Context, key string) (Result, error) {
	k := keyPrefix + key
	now := s.now()
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM comment_request_keys
		 WHERE key = $1 AND (created_at < $2 OR (comment_id IS NULL AND created_at < $3))`,
		k, now.Add(-s.ttl.done), now.Add(-s.ttl.pending)); err != nil {
		return Result{}, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO comment_request_keys (key, created_at) VALUES ($1, $2)
		 ON CONFLICT (key) DO NOTHING`, k, now)
	if err != nil {
		return Result{}, err
	}
	if tag.RowsAffected() == 1 {
		return Result{State: StateNew}, nil
	}

	var commentID *string
	if err := s.pool.QueryRow(ctx,
		`SELECT comment_id FROM comment_request_keys WHERE key = $1`, k).Scan(&commentID); err != nil {
		return Result{}, err
	}
	if commentID == nil {
		return Result{State: StateInFlight}, nil
	}
	return Result{State: StateDone, CommentID: *commentID}, nil
}

func (s *postgresStore) Complete(ctx context.Context, key, commentID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE comment_request_keys SET comment_id = $2, created_at = $3 WHERE key = $1`,
		keyPrefix+key, commentID, s.now())
	return err
}

func (s *postgresStore) Abort(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM comment_request_keys WHERE key = $1`, keyPrefix+key)
	return err
}
