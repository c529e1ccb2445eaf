package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/blog-platform/services/comments/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the comment tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", classify(err))
	}
	return nil
}

const commentColumns = `id::text AS id, post_id, parent_id::text AS parent_id, depth, content,
	author_ip, author_user_agent, author_email, author_name,
	status, is_spam, score, created_at`

var orderBy = map[domain.Sort]string{
	domain.SortTop:           "score DESC, created_at ASC, id ASC",
	domain.SortNewest:        "created_at DESC, id DESC",
	domain.SortOldest:        "created_at ASC, id ASC",
	domain.SortControversial: "score ASC, created_at DESC, id DESC",
}

func orderClause(s domain.Sort) string {
	if o, ok := orderBy[s]; ok {
		return o
	}
	return orderBy[domain.DefaultSort]
}

// PostgresStore persists comments, votes and the post read model in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertPost(ctx context.Context, p domain.Post) error {
	const q = `INSERT INTO posts (id, comments_enabled, comments_count)
	           VALUES ($1, $2, $3)
	           ON CONFLICT (id) DO UPDATE SET comments_enabled = EXCLUDED.comments_enabled`
	_, err := s.pool.Exec(ctx, q, p.ID, p.CommentsEnabled, p.CommentsCount)
	return classify(err)
}

func (s *PostgresStore) Create(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if c.ParentID != nil && !validID(*c.ParentID) {
		return domain.Comment{}, ErrNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Comment{}, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var enabled bool
	err = tx.QueryRow(ctx, `SELECT comments_enabled FROM posts WHERE id = $1 FOR SHARE`, c.PostID).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Comment{}, ErrNotFound
	}
	if err != nil {
		return domain.Comment{}, classify(err)
	}
	if !enabled {
		return domain.Comment{}, ErrInvalidState
	}

	q := `INSERT INTO comments (post_id, parent_id, depth, content,
	          author_ip, author_user_agent, author_email, author_name, status, is_spam)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	      RETURNING ` + commentColumns
	out, err := scanComment(tx.QueryRow(ctx, q,
		c.PostID, c.ParentID, c.Depth, c.Content,
		c.Author.IP, c.Author.UserAgent, c.Author.Email, c.Author.Name,
		string(c.Status), c.IsSpam))
	if err != nil {
		return domain.Comment{}, classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Comment{}, classify(err)
	}
	return out, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (domain.Comment, error) {
	if !validID(id) {
		return domain.Comment{}, ErrNotFound
	}
	c, err := scanComment(s.pool.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Comment{}, ErrNotFound
	}
	if err != nil {
		return domain.Comment{}, classify(err)
	}
	return c, nil
}

func (s *PostgresStore) GetChildren(ctx context.Context, postID string, parentID *string, by domain.Sort, limit, offset int) ([]domain.Comment, int, error) {
	if parentID != nil && !validID(*parentID) {
		return []domain.Comment{}, 0, nil
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM comments
		 WHERE post_id = $1 AND parent_id IS NOT DISTINCT FROM $2 AND status = 'APPROVED'`,
		postID, parentID).Scan(&total)
	if err != nil {
		return nil, 0, classify(err)
	}
	if total == 0 || offset >= total || limit <= 0 {
		return []domain.Comment{}, total, nil
	}

	q := `SELECT ` + commentColumns + ` FROM comments
	      WHERE post_id = $1 AND parent_id IS NOT DISTINCT FROM $2 AND status = 'APPROVED'
	      ORDER BY ` + orderClause(by) + `
	      LIMIT $3 OFFSET $4`
	items, err := s.queryComments(ctx, q, postID, parentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) ChildrenOf(ctx context.Context, postID string, parentIDs []string, by domain.Sort, perParent int) (map[string]Replies, error) {
	out := make(map[string]Replies)
	ids := make([]string, 0, len(parentIDs))
	for _, id := range parentIDs {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}

	if perParent <= 0 {
		rows, err := s.pool.Query(ctx,
			`SELECT parent_id::text, count(*) FROM comments
			 WHERE post_id = $1 AND parent_id = ANY($2::uuid[]) AND status = 'APPROVED'
			 GROUP BY parent_id`, postID, ids)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()
		for rows.Next() {
			var pid string
			var n int
			if err := rows.Scan(&pid, &n); err != nil {
				return nil, classify(err)
			}
			out[pid] = Replies{Total: n}
		}
		return out, classify(rows.Err())
	}

	q := `SELECT ` + commentColumns + `, total FROM (
	          SELECT c.*,
	                 row_number() OVER (PARTITION BY parent_id ORDER BY ` + orderClause(by) + `) AS rn,
	                 count(*) OVER (PARTITION BY parent_id) AS total
	          FROM comments c
	          WHERE post_id = $1 AND parent_id = ANY($2::uuid[]) AND status = 'APPROVED'
	      ) ranked
	      WHERE rn <= $3
	      ORDER BY parent_id, rn`
	rows, err := s.pool.Query(ctx, q, postID, ids, perParent)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Comment
		var total int
		if err := rows.Scan(append(commentDest(&c), &total)...); err != nil {
			return nil, classify(err)
		}
		r := out[*c.ParentID]
		r.Items = append(r.Items, c)
		r.Total = total
		out[*c.ParentID] = r
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) IncrementScore(ctx context.Context, commentID string, delta int) (int, error) {
	return incrementScore(ctx, s.pool, commentID, delta)
}

func (s *PostgresStore) IncrementPostCommentCount(ctx context.Context, postID string, delta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET comments_count = comments_count + $1 WHERE id = $2`, delta, postID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (domain.Post, error) {
	var p domain.Post
	err := s.pool.QueryRow(ctx,
		`SELECT id, comments_enabled, comments_count FROM posts WHERE id = $1`, id).
		Scan(&p.ID, &p.CommentsEnabled, &p.CommentsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, ErrNotFound
	}
	if err != nil {
		return domain.Post{}, classify(err)
	}
	return p, nil
}

func (s *PostgresStore) CountRecentByIdentity(ctx context.Context, ip, email string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM comments
		 WHERE created_at >= $3
		   AND (($1 <> '' AND author_ip = $1) OR ($2 <> '' AND author_email = $2))`,
		ip, email, since).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// VoteTx runs fn inside a single database transaction.
func (s *PostgresStore) VoteTx(ctx context.Context, fn func(tx VoteTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgVoteTx{tx: tx}); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

type pgVoteTx struct {
	tx pgx.Tx
}

func (t *pgVoteTx) LockComment(ctx context.Context, commentID string) (domain.Comment, error) {
	if !validID(commentID) {
		return domain.Comment{}, ErrNotFound
	}
	c, err := scanComment(t.tx.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1 FOR UPDATE`, commentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Comment{}, ErrNotFound
	}
	if err != nil {
		return domain.Comment{}, classify(err)
	}
	return c, nil
}

func (t *pgVoteTx) GetVote(ctx context.Context, commentID, voterKey string) (domain.Vote, bool, error) {
	v := domain.Vote{CommentID: commentID, VoterKey: voterKey}
	err := t.tx.QueryRow(ctx,
		`SELECT value FROM comment_votes WHERE comment_id = $1 AND voter_key = $2`,
		commentID, voterKey).Scan(&v.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Vote{}, false, nil
	}
	if err != nil {
		return domain.Vote{}, false, classify(err)
	}
	return v, true, nil
}

func (t *pgVoteTx) PutVote(ctx context.Context, v domain.Vote) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO comment_votes (comment_id, voter_key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (comment_id, voter_key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		v.CommentID, v.VoterKey, v.Value)
	return classify(err)
}

func (t *pgVoteTx) IncrementScore(ctx context.Context, commentID string, delta int) (int, error) {
	return incrementScore(ctx, t.tx, commentID, delta)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func incrementScore(ctx context.Context, q querier, commentID string, delta int) (int, error) {
	if !validID(commentID) {
		return 0, ErrNotFound
	}
	var score int
	err := q.QueryRow(ctx,
		`UPDATE comments SET score = score + $1 WHERE id = $2 RETURNING score`,
		delta, commentID).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, classify(err)
	}
	return score, nil
}

func (s *PostgresStore) queryComments(ctx context.Context, q string, args ...any) ([]domain.Comment, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(commentDest(&c)...); err != nil {
			return nil, classify(err)
		}
		out = append(out, c)
	}
	return out, classify(rows.Err())
}

func commentDest(c *domain.Comment) []any {
	return []any{&c.ID, &c.PostID, &c.ParentID, &c.Depth, &c.Content,
		&c.Author.IP, &c.Author.UserAgent, &c.Author.Email, &c.Author.Name,
		(*string)(&c.Status), &c.IsSpam, &c.Score, &c.CreatedAt}
}

func scanComment(row pgx.Row) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(commentDest(&c)...)
	return c, err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// classify tags connection failures with ErrUnavailable so callers can tell
// them apart from query errors. Context errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.ForeignKeyViolation:
			// Post or comment removed between the check and the write.
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case pgErr.Code == pgerrcode.QueryCanceled, pgErr.Code == pgerrcode.LockNotAvailable:
			return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow,
			pgErr.Code == pgerrcode.TooManyConnections:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}
