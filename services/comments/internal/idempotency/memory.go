package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	commentID string
	expires   time.Time
}

// memoryStore is a development-only in-memory idempotency store.
// State is lost on restart and is not shared between instances.
type memoryStore struct {
	mu   sync.Mutex
	ttl  lifetimes
	now  func() time.Time
	keys map[string]memoryEntry
}

func newMemoryStore(ttl lifetimes) *memoryStore {
	return &memoryStore{ttl: ttl, now: time.Now, keys: make(map[string]memoryEntry)}
}

func (s *memoryStore) Begin(_ context.Context, key string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.keys[key]; ok && now.Before(e.expires) {
		if e.commentID == "" {
			return Result{State: StateInFlight}, nil
		}
		return Result{State: StateDone, CommentID: e.commentID}, nil
	}
	s.keys[key] = memoryEntry{expires: now.Add(s.ttl.pending)}
	return Result{State: StateNew}, nil
}

func (s *memoryStore) Complete(_ context.Context, key, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = memoryEntry{commentID: commentID, expires: s.now().Add(s.ttl.done)}
	return nil
}

func (s *memoryStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
