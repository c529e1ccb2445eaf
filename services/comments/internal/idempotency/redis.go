package idempotency

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

type redisStore struct {
	client redis.UniversalClient
	ttl    lifetimes
}

func newRedisStore(client redis.UniversalClient, ttl lifetimes) *redisStore {
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Begin(ctx context.Context, key string) (Result, error) {
	k := keyPrefix + key
	set, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl.pending).Result()
	if err != nil {
		return Result{}, err
	}
	if set {
		return Result{State: StateNew}, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		set, err = s.client.SetNX(ctx, k, pendingMarker, s.ttl.pending).Result()
		if err != nil {
			return Result{}, err
		}
		if set {
			return Result{State: StateNew}, nil
		}
		return Result{State: StateInFlight}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if val == pendingMarker {
		return Result{State: StateInFlight}, nil
	}
	return Result{State: StateDone, CommentID: val}, nil
}

func (s *redisStore) Complete(ctx context.Context, key, commentID string) error {
	return s.client.Set(ctx, keyPrefix+key, commentID, s.ttl.done).Err()
}

func (s *redisStore) Abort(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}
