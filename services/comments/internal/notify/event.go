// Package notify delivers new-comment notifications to NATS JetStream.
// Delivery is best effort and never blocks or fails comment creation.
package notify

import (
	"context"
	"time"
)

const (
	// StreamName is the JetStream stream holding comment events.
	StreamName = "BLOG_COMMENTS"
	// SubjectCommentCreated carries one Event per persisted comment.
	SubjectCommentCreated = "blog.comments.created"
)

// Event is the payload published on SubjectCommentCreated.
type Event struct {
	EventID    string    `json:"event_id"`
	PostID     string    `json:"post_id"`
	CommentID  string    `json:"comment_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher sends a single event. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
