// Package idempotency remembers Idempotency-Key headers of comment creation
// requests so that a retried request does not create a second comment.
//
// Primary backend: Redis SET NX with TTL (env REDIS_URL).
// Fallback: Postgres table comment_request_keys (env DATABASE_URL).
// If neither is available, an in-memory store is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "comments:idem:"

// DefaultTTL is how long a completed key is remembered.
const DefaultTTL = 24 * time.Hour

// DefaultPendingTTL bounds how long an unfinished request holds its key, so a
// crash between Begin and Complete does not lock retries out for DefaultTTL.
const DefaultPendingTTL = time.Minute

type State int

const (
	// StateNew means the caller now owns the key and must Complete or Abort it.
	StateNew State = iota
	// StateInFlight means another request holds the key.
	StateInFlight
	// StateDone means a request with the key already created a comment.
	StateDone
)

type Result struct {
	State     State
	CommentID string
}

type Store interface {
	Begin(ctx context.Context, key string) (Result, error)
	Complete(ctx context.Context, key, commentID string) error
	Abort(ctx context.Context, key string) error
}

type Option func(*lifetimes)

type lifetimes struct {
	done    time.Duration
	pending time.Duration
}

// WithPendingTTL sets how long Begin reserves a key before Complete.
func WithPendingTTL(d time.Duration) Option {
	return func(l *lifetimes) { l.pending = d }
}

// NewStore picks the best available backend: Redis > Postgres > in-memory.
// In production the in-memory fallback is refused.
func NewStore(rdb redis.UniversalClient, pool *pgxpool.Pool, ttl time.Duration, isProd bool, opts ...Option) (Store, error) {
	l := lifetimes{done: ttl, pending: DefaultPendingTTL}
	for _, o := range opts {
		o(&l)
	}
	l = l.normalise()

	if rdb != nil {
		return newRedisStore(rdb, l), nil
	}
	if pool != nil {
		return newPostgresStore(pool, l), nil
	}
	if isProd {
		return nil, errors.New("production requires REDIS_URL or DATABASE_URL for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(l), nil
}

func (l lifetimes) normalise() lifetimes {
	if l.done <= 0 {
		l.done = DefaultTTL
	}
	if l.pending <= 0 {
		l.pending = DefaultPendingTTL
	}
	l.pending = min(l.pending, l.done)
	return l
}
