package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/blog-platform/services/comments/internal/metrics"
)

type Config struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(d *Dispatcher) { d.cb = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type job struct {
	ctx context.Context
	ev  Event
}

// Dispatcher queues notifications and publishes them from a fixed pool of
// workers. A nil Dispatcher, or one without a Publisher, drops everything.
type Dispatcher struct {
	pub     Publisher
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job
	quit   chan struct{}
	wg     sync.WaitGroup
	start  sync.Once
}

func NewDispatcher(pub Publisher, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pub: pub,
		cfg: cfg.withDefaults(),
		log: zap.NewNop(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = make(chan job, d.cfg.QueueSize)
	d.quit = make(chan struct{})
	return d
}

// NewBreaker builds the circuit breaker placed in front of the publisher.
func NewBreaker(name string, failureThreshold uint32, openTimeout time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	if d == nil {
		return
	}
	d.start.Do(func() {
		for range d.cfg.Workers {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// NotifyNewComment enqueues an event without blocking. The request context
// only contributes its values; its cancellation does not reach the publish.
func (d *Dispatcher) NotifyNewComment(ctx context.Context, postID, commentID string) {
	if d == nil || d.pub == nil {
		return
	}
	j := job{
		ctx: context.WithoutCancel(ctx),
		ev: Event{
			EventID:    uuid.NewString(),
			PostID:     postID,
			CommentID:  commentID,
			OccurredAt: d.now(),
		},
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(j.ev, "dispatcher closed")
		return
	}
	select {
	case d.queue <- j:
		d.metrics.Notification("queued")
	default:
		d.drop(j.ev, "queue full")
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.metrics.Notification("dropped")
	d.log.Warn("notify: event dropped",
		zap.String("reason", reason),
		zap.String("post_id", ev.PostID),
		zap.String("comment_id", ev.CommentID))
}

// Close stops accepting events and waits for queued ones to be attempted.
// Pending retries are abandoned. It returns ctx.Err() if the workers do not
// finish in time.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	close(d.quit)
	d.mu.Unlock()

	// Workers that were never started cannot drain the queue.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	for attempt := 1; ; attempt++ {
		err := d.publish(j)
		if err == nil {
			d.metrics.Notification("sent")
			return
		}
		if attempt > d.cfg.MaxRetries {
			d.metrics.Notification("failed")
			d.log.Warn("notify: publish failed",
				zap.String("post_id", j.ev.PostID),
				zap.String("comment_id", j.ev.CommentID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}

		t := time.NewTimer(backoffDelay(d.cfg.BaseDelay, d.cfg.MaxDelay, attempt))
		select {
		case <-t.C:
		case <-d.quit:
			t.Stop()
			d.metrics.Notification("abandoned")
			d.log.Warn("notify: retry abandoned on shutdown",
				zap.String("comment_id", j.ev.CommentID), zap.Error(err))
			return
		}
	}
}

func (d *Dispatcher) publish(j job) error {
	ctx, cancel := context.WithTimeout(j.ctx, d.cfg.PublishTimeout)
	defer cancel()

	if d.cb == nil {
		return d.pub.Publish(ctx, j.ev)
	}
	_, err := d.cb.Execute(func() (interface{}, error) {
		return nil, d.pub.Publish(ctx, j.ev)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		d.log.Debug("notify: breaker rejected publish", zap.String("comment_id", j.ev.CommentID))
	}
	return err
}
