package domain

import (
	"strings"
	"time"
)

// MaxDepth is the deepest nesting level a comment can be stored at.
// Replies to a comment at MaxDepth are stored at MaxDepth as well.
const MaxDepth = 5

// MaxContentLength is measured in characters, not bytes.
const MaxContentLength = 5000

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusSpam     Status = "SPAM"
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusSpam, StatusRejected:
		return true
	}
	return false
}

// Identity describes an anonymous commenter.
type Identity struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Depth     int       `json:"depth"`
	Content   string    `json:"content"`
	Author    Identity  `json:"author"`
	Status    Status    `json:"status"`
	IsSpam    bool      `json:"is_spam"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is the slice of a blog post the comment engine reads.
type Post struct {
	ID              string `json:"id"`
	CommentsEnabled bool   `json:"comments_enabled"`
	CommentsCount   int    `json:"comments_count"`
}

type Vote struct {
	CommentID string `json:"comment_id"`
	VoterKey  string `json:"voter_key"`
	Value     int    `json:"value"`
}

// ChildDepth returns the depth a reply to a comment at parentDepth is stored at.
func ChildDepth(parentDepth int) int {
	return min(parentDepth+1, MaxDepth)
}

// Sort selects the ordering of a comment listing.
type Sort string

const (
	SortTop           Sort = "top"
	SortNewest        Sort = "newest"
	SortOldest        Sort = "oldest"
	SortControversial Sort = "controversial"
)

// DefaultSort is used when the caller does not pick one.
const DefaultSort = SortTop

// ParseSort maps a query value onto a Sort. Empty input yields DefaultSort.
func ParseSort(v string) (Sort, bool) {
	switch s := Sort(strings.ToLower(strings.TrimSpace(v))); s {
	case "":
		return DefaultSort, true
	case SortTop, SortNewest, SortOldest, SortControversial:
		return s, true
	}
	return "", false
}

// Less reports whether a sorts before b. Every order ends on the comment id,
// so two distinct comments never compare equal.
func (s Sort) Less(a, b Comment) bool {
	switch s {
	case SortNewest:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	case SortOldest:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	case SortControversial:
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	default:
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}
}
