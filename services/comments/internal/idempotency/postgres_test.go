package idempotency

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/example/blog-platform/services/comments/internal/store"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_USER": "blog", "POSTGRES_PASSWORD": "blog", "POSTGRES_DB": "blog"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://blog:blog@%s:%s/blog?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, store.EnsureSchema(ctx, pool))
	return pool
}

func TestPostgresStore_PendingExpiresBeforeDone(t *testing.T) {
	s := newPostgresStore(startPostgres(t), lifetimes{done: time.Hour, pending: 15 * time.Second})
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := s.Begin(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, StateNew, res.State)

	now = now.Add(5 * time.Second)
	res, err = s.Begin(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, StateInFlight, res.State)

	now = now.Add(20 * time.Second)
	res, err = s.Begin(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, StateNew, res.State, "abandoned marker is released after the pending ttl")

	require.NoError(t, s.Complete(ctx, "k1", "comment-1"))
	now = now.Add(30 * time.Minute)
	res, err = s.Begin(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, Result{State: StateDone, CommentID: "comment-1"}, res)

	now = now.Add(time.Hour)
	res, err = s.Begin(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, StateNew, res.State)
}
