package service

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/example/blog-platform/services/comments/internal/domain"
	"github.com/example/blog-platform/services/comments/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// replyFanout caps how many replies are embedded per parent at each nesting
// level below a top-level comment. Deeper replies are paged via parent id.
var replyFanout = []int{20, 10, 5}

// Node is a comment with the replies embedded under it.
type Node struct {
	domain.Comment
	Replies []*Node
	// ReplyCount is the number of approved direct replies.
	ReplyCount int
	// HasMoreReplies is set when ReplyCount exceeds len(Replies).
	HasMoreReplies bool
}

func newNode(c domain.Comment) *Node {
	return &Node{Comment: c, Replies: []*Node{}}
}

type ListInput struct {
	PostID   string
	ParentID *string
	Sort     domain.Sort
	Page     int
	PageSize int
}

type Pagination struct {
	Page       int
	Limit      int
	TotalCount int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

type ListResult struct {
	Items      []*Node
	Pagination Pagination
	Sort       domain.Sort
}

// Ranking serves sorted, paginated comment listings.
type Ranking struct {
	store store.CommentStore
	opts  Options
}

func NewRanking(s store.CommentStore, opts Options) *Ranking {
	return &Ranking{store: s, opts: opts.withDefaults()}
}

// MaxPage bounds page so the row offset cannot overflow.
const MaxPage = math.MaxInt32 / MaxPageSize

// ClampPage normalises paging input: 1 <= page <= MaxPage and
// 1 <= pageSize <= MaxPageSize. A pageSize of 0 means unset and becomes
// DefaultPageSize.
func ClampPage(page, pageSize int) (int, int) {
	switch {
	case page < 1:
		page = 1
	case page > MaxPage:
		page = MaxPage
	}
	switch {
	case pageSize == 0:
		pageSize = DefaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Paginate derives page metadata from a total count.
func Paginate(page, pageSize, total int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Pagination{
		Page:       page,
		Limit:      pageSize,
		TotalCount: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// List returns one page of approved comments under ParentID (top-level when
// nil). Top-level pages embed up to three levels of replies.
func (r *Ranking) List(ctx context.Context, in ListInput) (ListResult, error) {
	page, pageSize := ClampPage(in.Page, in.PageSize)
	sort, ok := domain.ParseSort(string(in.Sort))
	if !ok {
		return ListResult{}, invalid("sort", "must be one of top, newest, oldest, controversial")
	}

	ctx, cancel := r.opts.bound(ctx)
	defer cancel()

	if err := r.checkScope(ctx, in.PostID, in.ParentID); err != nil {
		return ListResult{}, err
	}

	items, total, err := r.store.GetChildren(ctx, in.PostID, in.ParentID, sort, pageSize, (page-1)*pageSize)
	if err != nil {
		return ListResult{}, r.opts.fail("list.page", err)
	}
	if (page-1)*pageSize >= total {
		items = nil
	}

	nodes := make([]*Node, len(items))
	for i, c := range items {
		nodes[i] = newNode(c)
	}
	if in.ParentID == nil {
		err = r.embed(ctx, in.PostID, nodes, sort)
	} else {
		err = r.countReplies(ctx, in.PostID, nodes)
	}
	if err != nil {
		return ListResult{}, err
	}

	return ListResult{Items: nodes, Pagination: Paginate(page, pageSize, total), Sort: sort}, nil
}

// checkScope resolves the post and, for reply pages, the parent comment
// concurrently.
func (r *Ranking) checkScope(ctx context.Context, postID string, parentID *string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := r.store.GetPost(gctx, postID); err != nil {
			return r.opts.fail("list.post", err)
		}
		return nil
	})
	if parentID != nil {
		g.Go(func() error {
			parent, err := r.store.GetByID(gctx, *parentID)
			if err != nil {
				return r.opts.fail("list.parent", err)
			}
			if parent.PostID != postID || parent.Status != domain.StatusApproved {
				return translate("list.parent", store.ErrNotFound)
			}
			return nil
		})
	}
	return g.Wait()
}

// embed attaches replies level by level, one batched store call per level.
func (r *Ranking) embed(ctx context.Context, postID string, level []*Node, sort domain.Sort) error {
	for _, limit := range replyFanout {
		if len(level) == 0 {
			return nil
		}
		replies, err := r.store.ChildrenOf(ctx, postID, ids(level), sort, limit)
		if err != nil {
			return r.opts.fail("list.replies", err)
		}

		var next []*Node
		for _, n := range level {
			rep := replies[n.ID]
			n.ReplyCount = rep.Total
			for _, c := range rep.Items {
				child := newNode(c)
				n.Replies = append(n.Replies, child)
				next = append(next, child)
			}
			n.HasMoreReplies = n.ReplyCount > len(n.Replies)
		}
		level = next
	}
	return r.countReplies(ctx, postID, level)
}

// countReplies fills ReplyCount for nodes whose replies are not embedded.
func (r *Ranking) countReplies(ctx context.Context, postID string, nodes []*Node) error {
	if len(nodes) == 0 {
		return nil
	}
	counts, err := r.store.ChildrenOf(ctx, postID, ids(nodes), domain.DefaultSort, 0)
	if err != nil {
		return r.opts.fail("list.reply_counts", err)
	}
	for _, n := range nodes {
		n.ReplyCount = counts[n.ID].Total
		n.HasMoreReplies = n.ReplyCount > 0
	}
	return nil
}

// Audit returns a comment in any status.
func (r *Ranking) Audit(ctx context.Context, id string) (domain.Comment, error) {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()

	c, err := r.store.GetByID(ctx, id)
	if err != nil {
		return domain.Comment{}, r.opts.fail("audit", err)
	}
	return c, nil
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
