package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/example/blog-platform/services/comments/internal/domain"
	"github.com/example/blog-platform/services/comments/internal/idempotency"
	"github.com/example/blog-platform/services/comments/internal/spam"
	"github.com/example/blog-platform/services/comments/internal/store"
)

// SpamWindow is the trailing window recent comments are counted in.
const SpamWindow = 5 * time.Minute

// Notifier receives new-comment notifications. Implementations must not
// block and must not report failures back.
type Notifier interface {
	NotifyNewComment(ctx context.Context, postID, commentID string)
}

type CreateInput struct {
	PostID   string
	ParentID *string
	Content  string
	Author   domain.Identity
	// IdempotencyKey is optional. A retried request with the same key gets
	// the comment created by the first one.
	IdempotencyKey string
}

type CreateResult struct {
	Comment *Node
	// Replayed is set when the comment was created by an earlier request
	// with the same idempotency key.
	Replayed bool
}

// Ingestion accepts new comments.
type Ingestion struct {
	store    store.CommentStore
	notifier Notifier
	idem     idempotency.Store
	opts     Options
}

// NewIngestion wires the ingestion pipeline. notifier and idem may be nil.
func NewIngestion(s store.CommentStore, notifier Notifier, idem idempotency.Store, opts Options) *Ingestion {
	return &Ingestion{store: s, notifier: notifier, idem: idem, opts: opts.withDefaults()}
}

// Create validates, spam-checks and persists a comment, bumps the post
// counter and hands a notification to the notifier.
func (in *Ingestion) Create(ctx context.Context, req CreateInput) (CreateResult, error) {
	content := strings.TrimSpace(req.Content)
	if verr := validateCreate(req.PostID, content); verr != nil {
		return CreateResult{}, verr
	}

	if in.idem != nil && req.IdempotencyKey != "" {
		return in.createOnce(ctx, req, content)
	}
	c, err := in.create(ctx, req, content)
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Comment: newNode(c)}, nil
}

func (in *Ingestion) createOnce(ctx context.Context, req CreateInput, content string) (CreateResult, error) {
	key := req.PostID + ":" + req.Author.IP + ":" + req.IdempotencyKey
	res, err := in.idem.Begin(ctx, key)
	if err != nil {
		// Losing dedup is preferable to refusing the comment.
		in.opts.Logger.Warn("idempotency store unavailable", zap.Error(err))
		c, err := in.create(ctx, req, content)
		if err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Comment: newNode(c)}, nil
	}

	switch res.State {
	case idempotency.StateInFlight:
		return CreateResult{}, ErrDuplicateRequest
	case idempotency.StateDone:
		sctx, cancel := in.opts.bound(ctx)
		defer cancel()
		c, err := in.store.GetByID(sctx, res.CommentID)
		if err != nil {
			return CreateResult{}, in.opts.fail("create.replay", err)
		}
		return CreateResult{Comment: newNode(c), Replayed: true}, nil
	}

	c, err := in.create(ctx, req, content)
	detached := context.WithoutCancel(ctx)
	if err != nil {
		if aerr := in.idem.Abort(detached, key); aerr != nil {
			in.opts.Logger.Warn("idempotency abort failed", zap.Error(aerr))
		}
		return CreateResult{}, err
	}
	if cerr := in.idem.Complete(detached, key, c.ID); cerr != nil {
		in.opts.Logger.Warn("idempotency complete failed", zap.String("comment_id", c.ID), zap.Error(cerr))
	}
	return CreateResult{Comment: newNode(c)}, nil
}

func (in *Ingestion) create(ctx context.Context, req CreateInput, content string) (domain.Comment, error) {
	ctx, cancel := in.opts.bound(ctx)
	defer cancel()

	depth := 0
	if req.ParentID != nil {
		parent, err := in.store.GetByID(ctx, *req.ParentID)
		if err != nil {
			return domain.Comment{}, in.opts.fail("create.parent", err)
		}
		if parent.Status != domain.StatusApproved {
			return domain.Comment{}, translate("create.parent", store.ErrNotFound)
		}
		if parent.PostID != req.PostID {
			return domain.Comment{}, invalid("parent_id", "parent comment belongs to a different post")
		}
		depth = domain.ChildDepth(parent.Depth)
	}

	post, err := in.store.GetPost(ctx, req.PostID)
	if err != nil {
		return domain.Comment{}, in.opts.fail("create.post", err)
	}
	if !post.CommentsEnabled {
		return domain.Comment{}, translate("create.post", store.ErrInvalidState)
	}

	recent, err := in.store.CountRecentByIdentity(ctx, req.Author.IP, req.Author.Email, in.opts.Now().Add(-SpamWindow))
	if err != nil {
		return domain.Comment{}, in.opts.fail("create.recent", err)
	}
	verdict := spam.Check(content, req.Author, recent)

	c := domain.Comment{
		PostID:   req.PostID,
		ParentID: req.ParentID,
		Depth:    depth,
		Content:  content,
		Author:   req.Author,
		Status:   domain.StatusApproved,
	}
	if verdict.Spam {
		c.Status, c.IsSpam = domain.StatusSpam, true
		in.opts.Metrics.SpamRules(verdict.Rules)
		in.opts.Logger.Info("comment flagged as spam",
			zap.String("post_id", req.PostID),
			zap.Strings("rules", verdict.Rules),
			zap.Int("recent", recent))
	}

	created, err := in.store.Create(ctx, c)
	if err != nil {
		return domain.Comment{}, in.opts.fail("create.persist", err)
	}
	in.opts.Metrics.CommentCreated(string(created.Status))

	// The comment is already stored; a lost counter update must not turn
	// the request into a failure.
	if err := in.store.IncrementPostCommentCount(ctx, req.PostID, 1); err != nil {
		_ = in.opts.fail("create.count", err)
	}

	if in.notifier != nil {
		in.notifier.NotifyNewComment(ctx, created.PostID, created.ID)
	}
	return created, nil
}

func validateCreate(postID, content string) error {
	fields := map[string]string{}
	if strings.TrimSpace(postID) == "" {
		fields["post_id"] = "is required"
	}
	switch n := utf8.RuneCountInString(content); {
	case !utf8.ValidString(content):
		fields["content"] = "must be valid UTF-8"
	case n == 0:
		fields["content"] = "must not be empty"
	case n > domain.MaxContentLength:
		fields["content"] = "must be at most 5000 characters"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
