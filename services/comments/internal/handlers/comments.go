package handlers

import (
	"context"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/internal/platform/httpserver"
	"github.com/example/blog-platform/services/comments/internal/domain"
	"github.com/example/blog-platform/services/comments/internal/service"
)

const (
	maxBodyBytes   = 64 << 10
	maxNameLength  = 100
	maxEmailLength = 254
	maxUserAgent   = 512
)

type CommentLister interface {
	List(ctx context.Context, in service.ListInput) (service.ListResult, error)
}

type CommentCreator interface {
	Create(ctx context.Context, in service.CreateInput) (service.CreateResult, error)
}

type VoteCaster interface {
	CastVote(ctx context.Context, commentID, voterKey string, value int) (int, error)
}

type CommentAuditor interface {
	Audit(ctx context.Context, id string) (domain.Comment, error)
}

type createCommentRequest struct {
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id,omitempty"`
	Email    string  `json:"email,omitempty"`
	Name     string  `json:"name,omitempty"`
}

type voteRequest struct {
	Value int    `json:"value"`
	Email string `json:"email,omitempty"`
}

type voteResponse struct {
	Score int `json:"score"`
}

// commentResponse is the public view of a comment. Author network details
// and email stay server side.
type commentResponse struct {
	ID             string             `json:"id"`
	PostID         string             `json:"post_id"`
	ParentID       *string            `json:"parent_id,omitempty"`
	Depth          int                `json:"depth"`
	Content        string             `json:"content"`
	AuthorName     string             `json:"author_name,omitempty"`
	Score          int                `json:"score"`
	CreatedAt      time.Time          `json:"created_at"`
	Replies        []*commentResponse `json:"replies"`
	ReplyCount     int                `json:"reply_count"`
	HasMoreReplies bool               `json:"has_more_replies"`
}

type paginationResponse struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"total_count"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type listResponse struct {
	Comments   []*commentResponse `json:"comments"`
	Pagination paginationResponse `json:"pagination"`
	Sort       domain.Sort        `json:"sort"`
}

func toResponse(n *service.Node) *commentResponse {
	out := &commentResponse{
		ID:             n.ID,
		PostID:         n.PostID,
		ParentID:       n.ParentID,
		Depth:          n.Depth,
		Content:        n.Content,
		AuthorName:     n.Author.Name,
		Score:          n.Score,
		CreatedAt:      n.CreatedAt,
		Replies:        make([]*commentResponse, len(n.Replies)),
		ReplyCount:     n.ReplyCount,
		HasMoreReplies: n.HasMoreReplies,
	}
	for i, r := range n.Replies {
		out.Replies[i] = toResponse(r)
	}
	return out
}

// ListComments handles GET /v1/posts/{post_id}/comments
func ListComments(l CommentLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := strings.TrimSpace(chi.URLParam(r, "post_id"))
		if postID == "" {
			validationFailed(w, r, "post_id", "is required")
			return
		}

		q := r.URL.Query()
		in := service.ListInput{
			PostID:   postID,
			Sort:     domain.Sort(q.Get("sort")),
			Page:     queryInt(q.Get("page"), 1),
			PageSize: queryInt(q.Get("page_size"), service.DefaultPageSize),
		}
		if p := strings.TrimSpace(q.Get("parent_id")); p != "" {
			in.ParentID = &p
		}

		res, err := l.List(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		out := listResponse{
			Comments: make([]*commentResponse, len(res.Items)),
			Pagination: paginationResponse{
				Page:       res.Pagination.Page,
				Limit:      res.Pagination.Limit,
				TotalCount: res.Pagination.TotalCount,
				TotalPages: res.Pagination.TotalPages,
				HasNext:    res.Pagination.HasNext,
				HasPrev:    res.Pagination.HasPrev,
			},
			Sort: res.Sort,
		}
		for i, n := range res.Items {
			out.Comments[i] = toResponse(n)
		}
		api.WriteJSON(w, http.StatusOK, out)
	}
}

// CreateComment handles POST /v1/posts/{post_id}/comments
func CreateComment(c CommentCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := strings.TrimSpace(chi.URLParam(r, "post_id"))
		if postID == "" {
			validationFailed(w, r, "post_id", "is required")
			return
		}

		var req createCommentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		email, ok := normaliseEmail(req.Email)
		if !ok {
			validationFailed(w, r, "email", "must be a valid address")
			return
		}
		name := strings.TrimSpace(req.Name)
		if utf8.RuneCountInString(name) > maxNameLength {
			validationFailed(w, r, "name", "must be at most 100 characters")
			return
		}
		if req.ParentID != nil {
			p := strings.TrimSpace(*req.ParentID)
			if p == "" {
				req.ParentID = nil
			} else {
				req.ParentID = &p
			}
		}

		res, err := c.Create(r.Context(), service.CreateInput{
			PostID:   postID,
			ParentID: req.ParentID,
			Content:  req.Content,
			Author: domain.Identity{
				IP:        httpserver.ClientIP(r),
				UserAgent: truncate(r.UserAgent(), maxUserAgent),
				Email:     email,
				Name:      name,
			},
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		api.WriteJSON(w, status, toResponse(res.Comment))
	}
}

// CastVote handles POST /v1/comments/{comment_id}/votes
func CastVote(v VoteCaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			validationFailed(w, r, "comment_id", "is required")
			return
		}

		var req voteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		email, ok := normaliseEmail(req.Email)
		if !ok {
			validationFailed(w, r, "email", "must be a valid address")
			return
		}

		key, err := service.VoterKey(domain.Identity{IP: httpserver.ClientIP(r), Email: email})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		score, err := v.CastVote(r.Context(), commentID, key, req.Value)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, voteResponse{Score: score})
	}
}

// GetCommentAudit handles GET /v1/admin/comments/{comment_id}
func GetCommentAudit(a CommentAuditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			validationFailed(w, r, "comment_id", "is required")
			return
		}

		c, err := a.Audit(r.Context(), commentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, c)
	}
}

func queryInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func normaliseEmail(raw string) (string, bool) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", true
	}
	if len(email) > maxEmailLength {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", false
	}
	return email, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
