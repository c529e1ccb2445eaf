package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/blog-platform/services/comments/internal/domain"
)

func seededStore(t *testing.T, posts ...domain.Post) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	for _, p := range posts {
		if err := s.UpsertPost(context.Background(), p); err != nil {
			t.Fatalf("seed post: %v", err)
		}
	}
	return s
}

func approved(postID string, parentID *string, content string) domain.Comment {
	return domain.Comment{
		PostID:   postID,
		ParentID: parentID,
		Content:  content,
		Status:   domain.StatusApproved,
		Author:   domain.Identity{IP: "203.0.113.7"},
	}
}

func TestInMemory_CreateAssignsIDAndTime(t *testing.T) {
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true})

	c, err := s.Create(context.Background(), approved("p1", nil, "hello"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Fatalf("expected id and createdAt, got %+v", c)
	}
	got, err := s.GetByID(context.Background(), c.ID)
	if err != nil || got.Content != "hello" {
		t.Fatalf("GetByID = %+v, %v", got, err)
	}
}

func TestInMemory_CreateRejectsUnknownAndDisabledPosts(t *testing.T) {
	s := seededStore(t, domain.Post{ID: "closed", CommentsEnabled: false})

	if _, err := s.Create(context.Background(), approved("missing", nil, "x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown post: want ErrNotFound, got %v", err)
	}
	if _, err := s.Create(context.Background(), approved("closed", nil, "x")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("disabled post: want ErrInvalidState, got %v", err)
	}
}

func TestInMemory_GetChildrenFiltersApprovedAndParent(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true}, domain.Post{ID: "p2", CommentsEnabled: true})

	root, _ := s.Create(ctx, approved("p1", nil, "root"))
	spam := approved("p1", nil, "spam")
	spam.Status, spam.IsSpam = domain.StatusSpam, true
	_, _ = s.Create(ctx, spam)
	_, _ = s.Create(ctx, approved("p2", nil, "other post"))
	reply, _ := s.Create(ctx, approved("p1", &root.ID, "reply"))

	top, total, err := s.GetChildren(ctx, "p1", nil, domain.SortTop, 10, 0)
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	if total != 1 || len(top) != 1 || top[0].ID != root.ID {
		t.Fatalf("top-level = %v (total %d), want only root", top, total)
	}

	children, total, _ := s.GetChildren(ctx, "p1", &root.ID, domain.SortTop, 10, 0)
	if total != 1 || children[0].ID != reply.ID {
		t.Fatalf("children = %v (total %d), want only reply", children, total)
	}
}

func TestInMemory_GetChildrenPagination(t *testing.T) {
	for _, n := range []int{0, 1, 37, 100} {
		t.Run(fmt.Sprintf("total=%d", n), func(t *testing.T) {
			ctx := context.Background()
			s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true})
			for i := range n {
				if _, err := s.Create(ctx, approved("p1", nil, fmt.Sprintf("c%d", i))); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}

			seen := map[string]bool{}
			for offset := 0; offset < n+10; offset += 10 {
				page, total, err := s.GetChildren(ctx, "p1", nil, domain.SortNewest, 10, offset)
				if err != nil {
					t.Fatalf("GetChildren: %v", err)
				}
				if total != n {
					t.Fatalf("total = %d, want %d", total, n)
				}
				for _, c := range page {
					if seen[c.ID] {
						t.Fatalf("comment %s returned twice", c.ID)
					}
					seen[c.ID] = true
				}
			}
			if len(seen) != n {
				t.Fatalf("saw %d comments, want %d", len(seen), n)
			}
		})
	}
}

func TestInMemory_EqualScoresOrderIsStable(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true}).WithClock(func() time.Time { return at })
	for i := range 6 {
		_, _ = s.Create(ctx, approved("p1", nil, fmt.Sprintf("c%d", i)))
	}

	first, _, _ := s.GetChildren(ctx, "p1", nil, domain.SortTop, 100, 0)
	for range 20 {
		again, _, _ := s.GetChildren(ctx, "p1", nil, domain.SortTop, 100, 0)
		for i := range first {
			if first[i].ID != again[i].ID {
				t.Fatalf("position %d changed: %s vs %s", i, first[i].ID, again[i].ID)
			}
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].ID >= first[i].ID {
			t.Fatalf("ties should break on ascending id, got %s before %s", first[i-1].ID, first[i].ID)
		}
	}
}

func TestInMemory_ChildrenOf(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true})
	a, _ := s.Create(ctx, approved("p1", nil, "a"))
	b, _ := s.Create(ctx, approved("p1", nil, "b"))
	for i := range 4 {
		_, _ = s.Create(ctx, approved("p1", &a.ID, fmt.Sprintf("a%d", i)))
	}

	got, err := s.ChildrenOf(ctx, "p1", []string{a.ID, b.ID}, domain.SortOldest, 3)
	if err != nil {
		t.Fatalf("ChildrenOf: %v", err)
	}
	if got[a.ID].Total != 4 || len(got[a.ID].Items) != 3 {
		t.Fatalf("a replies = %+v, want 3 of 4", got[a.ID])
	}
	if _, ok := got[b.ID]; ok {
		t.Fatalf("b has no replies, got %+v", got[b.ID])
	}

	counts, _ := s.ChildrenOf(ctx, "p1", []string{a.ID}, domain.SortOldest, 0)
	if counts[a.ID].Total != 4 || counts[a.ID].Items != nil {
		t.Fatalf("count-only = %+v", counts[a.ID])
	}
}

func TestInMemory_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true})
	c, _ := s.Create(ctx, approved("p1", nil, "hot"))

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			delta := 1
			if i%4 == 0 {
				delta = -1
			}
			if _, err := s.IncrementScore(ctx, c.ID, delta); err != nil {
				t.Errorf("IncrementScore: %v", err)
			}
			if err := s.IncrementPostCommentCount(ctx, "p1", 1); err != nil {
				t.Errorf("IncrementPostCommentCount: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetByID(ctx, c.ID)
	if got.Score != 50 {
		t.Fatalf("score = %d, want 50", got.Score)
	}
	p, _ := s.GetPost(ctx, "p1")
	if p.CommentsCount != 100 {
		t.Fatalf("comments_count = %d, want 100", p.CommentsCount)
	}
}

func TestInMemory_CountRecentByIdentity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := now.Add(-10 * time.Minute)
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true}).WithClock(func() time.Time { return clock })

	old := approved("p1", nil, "old")
	_, _ = s.Create(ctx, old)

	clock = now
	_, _ = s.Create(ctx, approved("p1", nil, "fresh"))
	byEmail := approved("p1", nil, "by email")
	byEmail.Author = domain.Identity{IP: "198.51.100.1", Email: "a@example.com"}
	_, _ = s.Create(ctx, byEmail)

	since := now.Add(-5 * time.Minute)
	if n, _ := s.CountRecentByIdentity(ctx, "203.0.113.7", "", since); n != 1 {
		t.Fatalf("by ip = %d, want 1", n)
	}
	if n, _ := s.CountRecentByIdentity(ctx, "192.0.2.1", "a@example.com", since); n != 1 {
		t.Fatalf("by email = %d, want 1", n)
	}
	if n, _ := s.CountRecentByIdentity(ctx, "", "", since); n != 0 {
		t.Fatalf("empty identity = %d, want 0", n)
	}
}

func TestInMemory_VoteTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true})
	c, _ := s.Create(ctx, approved("p1", nil, "x"))

	boom := errors.New("boom")
	err := s.VoteTx(ctx, func(tx VoteTx) error {
		if err := tx.PutVote(ctx, domain.Vote{CommentID: c.ID, VoterKey: "ip:1", Value: 1}); err != nil {
			return err
		}
		if _, err := tx.IncrementScore(ctx, c.ID, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("VoteTx err = %v, want boom", err)
	}

	got, _ := s.GetByID(ctx, c.ID)
	if got.Score != 0 || s.VoteSum(c.ID) != 0 {
		t.Fatalf("rolled back tx leaked: score=%d votes=%d", got.Score, s.VoteSum(c.ID))
	}
}

func TestInMemory_VoteTxSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, domain.Post{ID: "p1", CommentsEnabled: true})
	c, _ := s.Create(ctx, approved("p1", nil, "x"))

	err := s.VoteTx(ctx, func(tx VoteTx) error {
		_ = tx.PutVote(ctx, domain.Vote{CommentID: c.ID, VoterKey: "ip:1", Value: -1})
		score, _ := tx.IncrementScore(ctx, c.ID, -1)
		if score != -1 {
			t.Errorf("score in tx = %d, want -1", score)
		}
		v, ok, _ := tx.GetVote(ctx, c.ID, "ip:1")
		if !ok || v.Value != -1 {
			t.Errorf("GetVote in tx = %+v %v", v, ok)
		}
		locked, _ := tx.LockComment(ctx, c.ID)
		if locked.Score != -1 {
			t.Errorf("LockComment score = %d, want -1", locked.Score)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("VoteTx: %v", err)
	}
	got, _ := s.GetByID(ctx, c.ID)
	if got.Score != -1 || s.VoteSum(c.ID) != -1 {
		t.Fatalf("committed score=%d votes=%d, want -1/-1", got.Score, s.VoteSum(c.ID))
	}
}
