package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/blog-platform/services/comments/internal/domain"
)

var (
	// ErrNotFound is returned when a post, comment or vote row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a post does not accept new comments.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable marks connection-level failures of the backing store.
	ErrUnavailable = errors.New("store unavailable")
)

// Replies is one parent's slice of approved children plus the total number
// of approved children that parent has.
type Replies struct {
	Items []domain.Comment
	Total int
}

// CommentStore persists the comment tree and the post read model.
type CommentStore interface {
	// Create persists c and returns it with id and createdAt assigned.
	Create(ctx context.Context, c domain.Comment) (domain.Comment, error)
	// GetByID returns a comment in any status.
	GetByID(ctx context.Context, id string) (domain.Comment, error)
	// GetChildren lists approved comments under parentID (top-level when nil)
	// and the total count of such comments ignoring limit and offset.
	GetChildren(ctx context.Context, postID string, parentID *string, sort domain.Sort, limit, offset int) ([]domain.Comment, int, error)
	// ChildrenOf returns up to perParent approved children for each parent in
	// parentIDs. With perParent <= 0 only totals are filled in.
	ChildrenOf(ctx context.Context, postID string, parentIDs []string, sort domain.Sort, perParent int) (map[string]Replies, error)
	IncrementScore(ctx context.Context, commentID string, delta int) (int, error)
	IncrementPostCommentCount(ctx context.Context, postID string, delta int) error
	GetPost(ctx context.Context, id string) (domain.Post, error)
	// CountRecentByIdentity counts comments created at or after since by the
	// same IP or, when email is set, the same email.
	CountRecentByIdentity(ctx context.Context, ip, email string, since time.Time) (int, error)
	Ping(ctx context.Context) error
}

// VoteTx is the unit of work a vote runs in. Everything done through it is
// committed together or not at all.
type VoteTx interface {
	// LockComment loads the comment and holds it against concurrent votes
	// until the transaction ends.
	LockComment(ctx context.Context, commentID string) (domain.Comment, error)
	GetVote(ctx context.Context, commentID, voterKey string) (domain.Vote, bool, error)
	PutVote(ctx context.Context, v domain.Vote) error
	IncrementScore(ctx context.Context, commentID string, delta int) (int, error)
}

type VoteStore interface {
	VoteTx(ctx context.Context, fn func(tx VoteTx) error) error
}

// Store is everything the comments service needs from persistence.
type Store interface {
	CommentStore
	VoteStore
}

// PostSeeder lets dev setups and tests register posts. The blog owns posts in
// production; this engine only reads them.
type PostSeeder interface {
	UpsertPost(ctx context.Context, p domain.Post) error
}
