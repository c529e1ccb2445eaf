package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/blog-platform/services/comments/internal/domain"
)

type voteKey struct {
	commentID string
	voterKey  string
}

// InMemoryStore is a development and test implementation of Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	comments map[string]domain.Comment
	posts    map[string]domain.Post
	votes    map[voteKey]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		comments: make(map[string]domain.Comment),
		posts:    make(map[string]domain.Post),
		votes:    make(map[voteKey]int),
	}
}

// WithClock replaces the clock used to stamp createdAt.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

func (s *InMemoryStore) UpsertPost(_ context.Context, p domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
	return nil
}

func (s *InMemoryStore) Create(_ context.Context, c domain.Comment) (domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[c.PostID]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	if !p.CommentsEnabled {
		return domain.Comment{}, ErrInvalidState
	}

	c.ID = uuid.New().String()
	c.CreatedAt = s.now()
	c.Score = 0
	if c.ParentID != nil {
		pid := *c.ParentID
		c.ParentID = &pid
	}
	s.comments[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id string) (domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) GetChildren(_ context.Context, postID string, parentID *string, by domain.Sort, limit, offset int) ([]domain.Comment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Comment
	for _, c := range s.comments {
		if c.PostID != postID || c.Status != domain.StatusApproved || !sameParent(c.ParentID, parentID) {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return by.Less(matched[i], matched[j]) })

	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []domain.Comment{}, total, nil
	}
	end := min(offset+limit, total)
	return append([]domain.Comment(nil), matched[offset:end]...), total, nil
}

func (s *InMemoryStore) ChildrenOf(_ context.Context, postID string, parentIDs []string, by domain.Sort, perParent int) (map[string]Replies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		wanted[id] = true
	}

	grouped := make(map[string][]domain.Comment)
	for _, c := range s.comments {
		if c.PostID != postID || c.Status != domain.StatusApproved || c.ParentID == nil || !wanted[*c.ParentID] {
			continue
		}
		grouped[*c.ParentID] = append(grouped[*c.ParentID], c)
	}

	out := make(map[string]Replies, len(grouped))
	for pid, items := range grouped {
		r := Replies{Total: len(items)}
		if perParent > 0 {
			sort.Slice(items, func(i, j int) bool { return by.Less(items[i], items[j]) })
			r.Items = items[:min(perParent, len(items))]
		}
		out[pid] = r
	}
	return out, nil
}

func (s *InMemoryStore) IncrementScore(_ context.Context, commentID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return 0, ErrNotFound
	}
	c.Score += delta
	s.comments[commentID] = c
	return c.Score, nil
}

func (s *InMemoryStore) IncrementPostCommentCount(_ context.Context, postID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return ErrNotFound
	}
	p.CommentsCount += delta
	s.posts[postID] = p
	return nil
}

func (s *InMemoryStore) GetPost(_ context.Context, id string) (domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return domain.Post{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) CountRecentByIdentity(_ context.Context, ip, email string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.comments {
		if c.CreatedAt.Before(since) {
			continue
		}
		if (ip != "" && c.Author.IP == ip) || (email != "" && c.Author.Email == email) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

// VoteTx runs fn while holding the store lock. Writes are buffered and only
// applied when fn returns nil.
func (s *InMemoryStore) VoteTx(ctx context.Context, fn func(tx VoteTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memVoteTx{
		s:      s,
		votes:  make(map[voteKey]int),
		deltas: make(map[string]int),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, v := range tx.votes {
		s.votes[k] = v
	}
	for id, d := range tx.deltas {
		c := s.comments[id]
		c.Score += d
		s.comments[id] = c
	}
	return nil
}

type memVoteTx struct {
	s      *InMemoryStore
	votes  map[voteKey]int
	deltas map[string]int
}

func (t *memVoteTx) LockComment(_ context.Context, commentID string) (domain.Comment, error) {
	c, ok := t.s.comments[commentID]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	c.Score += t.deltas[commentID]
	return c, nil
}

func (t *memVoteTx) GetVote(_ context.Context, commentID, voterKey string) (domain.Vote, bool, error) {
	k := voteKey{commentID, voterKey}
	v, ok := t.votes[k]
	if !ok {
		v, ok = t.s.votes[k]
	}
	if !ok {
		return domain.Vote{}, false, nil
	}
	return domain.Vote{CommentID: commentID, VoterKey: voterKey, Value: v}, true, nil
}

func (t *memVoteTx) PutVote(_ context.Context, v domain.Vote) error {
	if _, ok := t.s.comments[v.CommentID]; !ok {
		return ErrNotFound
	}
	t.votes[voteKey{v.CommentID, v.VoterKey}] = v.Value
	return nil
}

func (t *memVoteTx) IncrementScore(_ context.Context, commentID string, delta int) (int, error) {
	c, ok := t.s.comments[commentID]
	if !ok {
		return 0, ErrNotFound
	}
	t.deltas[commentID] += delta
	return c.Score + t.deltas[commentID], nil
}

// VoteSum returns the sum of recorded votes for a comment.
func (s *InMemoryStore) VoteSum(commentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := 0
	for k, v := range s.votes {
		if k.commentID == commentID {
			sum += v
		}
	}
	return sum
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
