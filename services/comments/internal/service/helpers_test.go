package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/blog-platform/services/comments/internal/domain"
	"github.com/example/blog-platform/services/comments/internal/idempotency"
	"github.com/example/blog-platform/services/comments/internal/store"
)

// testClock advances one second every time the store stamps a comment, so
// creation order equals createdAt order.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][2]string
}

func (n *recordingNotifier) NotifyNewComment(_ context.Context, postID, commentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, [2]string{postID, commentID})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type env struct {
	store    *store.InMemoryStore
	clock    *testClock
	notifier *recordingNotifier
	idem     idempotency.Store
	ingest   *Ingestion
	ledger   *Ledger
	ranking  *Ranking
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := newTestClock()
	s := store.NewInMemoryStore().WithClock(clock.Tick)
	ctx := context.Background()
	require.NoError(t, s.UpsertPost(ctx, domain.Post{ID: "P1", CommentsEnabled: true}))
	require.NoError(t, s.UpsertPost(ctx, domain.Post{ID: "P2", CommentsEnabled: true}))
	require.NoError(t, s.UpsertPost(ctx, domain.Post{ID: "closed", CommentsEnabled: false}))

	idem, err := idempotency.NewStore(nil, nil, time.Hour, false)
	require.NoError(t, err)

	opts := Options{Now: clock.Now}
	n := &recordingNotifier{}
	return &env{
		store:    s,
		clock:    clock,
		notifier: n,
		idem:     idem,
		ingest:   NewIngestion(s, n, idem, opts),
		ledger:   NewLedger(s, opts),
		ranking:  NewRanking(s, opts),
	}
}

var visitor = domain.Identity{IP: "203.0.113.7", UserAgent: "Mozilla/5.0"}

func (e *env) comment(t *testing.T, postID string, parent *domain.Comment, content string) domain.Comment {
	t.Helper()
	return e.commentAs(t, postID, parent, content, visitor)
}

func (e *env) commentAs(t *testing.T, postID string, parent *domain.Comment, content string, who domain.Identity) domain.Comment {
	t.Helper()
	in := CreateInput{PostID: postID, Content: content, Author: who}
	if parent != nil {
		in.ParentID = &parent.ID
	}
	res, err := e.ingest.Create(context.Background(), in)
	require.NoError(t, err)
	return res.Comment.Comment
}

// distinctAuthor keeps the per-identity rate rule out of bulk fixtures.
func distinctAuthor(i int) domain.Identity {
	return domain.Identity{IP: "198.51.100." + strconv.Itoa(i%250), Email: "user" + strconv.Itoa(i) + "@example.com"}
}
