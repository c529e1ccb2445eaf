// Package service holds the comment engine: ingestion of new comments, the
// vote ledger and ranked listing.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/blog-platform/services/comments/internal/metrics"
)

// DefaultStoreTimeout bounds every store round trip of one operation.
const DefaultStoreTimeout = 5 * time.Second

// Options are shared by Ingestion, Ledger and Ranking.
type Options struct {
	StoreTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func (o Options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.StoreTimeout)
}

// fail translates err, counts transient and internal failures and logs them.
func (o Options) fail(op string, err error) error {
	err = translate(op, err)
	if k := kind(err); k != "" {
		o.Metrics.StoreError(op, k)
		o.Logger.Error("store call failed", zap.String("op", op), zap.String("kind", k), zap.Error(err))
	}
	return err
}
