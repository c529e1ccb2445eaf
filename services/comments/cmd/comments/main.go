package main

import (
	"context"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/internal/platform/db"
	"github.com/example/blog-platform/internal/platform/httpserver"
	"github.com/example/blog-platform/internal/platform/logging"
	"github.com/example/blog-platform/internal/platform/natsconn"
	"github.com/example/blog-platform/internal/platform/run"
	"github.com/example/blog-platform/services/comments/internal/config"
	"github.com/example/blog-platform/services/comments/internal/domain"
	"github.com/example/blog-platform/services/comments/internal/handlers"
	"github.com/example/blog-platform/services/comments/internal/idempotency"
	"github.com/example/blog-platform/services/comments/internal/metrics"
	"github.com/example/blog-platform/services/comments/internal/notify"
	"github.com/example/blog-platform/services/comments/internal/service"
	"github.com/example/blog-platform/services/comments/internal/store"
)

const (
	streamMaxAge  = 7 * 24 * time.Hour
	grpcStopAfter = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	var logOpts []logging.Option
	if !cfg.App.IsProduction() {
		logOpts = append(logOpts, logging.Console())
	}
	log, err := logging.New(cfg.App.LogLevel, cfg.App.ServiceName, logOpts...)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	var cleanup []func()
	exit := func(code int) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		_ = log.Sync()
		run.Exit(code)
	}

	comments, pool := initStore(log, cfg)
	if pool != nil {
		cleanup = append(cleanup, pool.Close)
	}

	rdb := initRedis(log, cfg)
	if rdb != nil {
		cleanup = append(cleanup, func() { _ = rdb.Close() })
	}

	// An in-flight key outlives the store calls of its request, not the request's retries.
	idem, err := idempotency.NewStore(rdb, pool, cfg.IdempotencyTTL, cfg.App.IsProduction(),
		idempotency.WithPendingTTL(4*cfg.StoreTimeout))
	if err != nil {
		log.Error("idempotency store", zap.Error(err))
		exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	dispatcher, closeNATS := initDispatcher(log, cfg, m)
	if closeNATS != nil {
		cleanup = append(cleanup, closeNATS)
	}
	dispatcher.Start()

	opts := service.Options{StoreTimeout: cfg.StoreTimeout, Logger: log, Metrics: m}
	ingestion := service.NewIngestion(comments, dispatcher, idem, opts)
	ranking := service.NewRanking(comments, opts)
	ledger := service.NewLedger(comments, opts)

	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Leeway: 30 * time.Second}
	limiter := httpserver.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc:      readiness(comments, rdb),
		Metrics:        promhttp.Handler(),
		Logger:         log,
		TrustedProxies: cfg.TrustedProxies,
	})
	r.Group(func(r chi.Router) {
		r.Use(m.Middleware)
		r.Get("/v1/posts/{post_id}/comments", handlers.ListComments(ranking))
		r.With(limiter.Middleware).Post("/v1/posts/{post_id}/comments", handlers.CreateComment(ingestion))
		r.With(limiter.Middleware).Post("/v1/comments/{comment_id}/votes", handlers.CastVote(ledger))

		// Moderation reads see every status.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier), auth.RequireRole(auth.RoleAdmin, auth.RoleModerator))
			r.Get("/v1/admin/comments/{comment_id}", handlers.GetCommentAudit(ranking))
		})
	})

	srv := httpserver.New(httpserver.Options{
		Addr:         cfg.App.HTTP.Addr,
		ServiceName:  cfg.App.ServiceName,
		Logger:       log,
		Router:       r,
		WriteTimeout: cfg.StoreTimeout + 10*time.Second,
	})

	lis, err := net.Listen("tcp", cfg.App.GRPC.Addr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		exit(1)
	}
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)
	grpc_prometheus.Register(grpcSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			log.Info("grpc server starting", zap.String("addr", cfg.App.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				log.Error("grpc serve", zap.Error(err))
			}
		}()
		return srv.Start(log)
	})

	healthSrv.Shutdown()
	stopGRPC(grpcSrv)
	runner.Graceful("http", srv.Shutdown)
	runner.Graceful("notifications", dispatcher.Close)

	log.Info("exit", zap.Int("code", code))
	exit(code)
}

// initStore selects the comment store backend. Production requires Postgres;
// development falls back to an in-memory store seeded with cfg.DevPosts.
func initStore(log *zap.Logger, cfg config.Config) (store.Store, *pgxpool.Pool) {
	isProd := cfg.App.IsProduction()

	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory comment store (development only)")
		return memoryStore(log, cfg.DevPosts), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		if isProd {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory comment store", zap.Error(err))
		return memoryStore(log, cfg.DevPosts), nil
	}

	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			log.Error("apply schema", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
	}

	log.Info("comment store: postgres", zap.Bool("auto_migrate", cfg.AutoMigrate))
	return store.NewPostgresStore(pool), pool
}

func memoryStore(log *zap.Logger, posts []string) store.Store {
	s := store.NewInMemoryStore()
	seedPosts(log, s, posts)
	return s
}

func seedPosts(log *zap.Logger, s store.PostSeeder, ids []string) {
	for _, id := range ids {
		if err := s.UpsertPost(context.Background(), domain.Post{ID: id, CommentsEnabled: true}); err != nil {
			log.Warn("seed post", zap.String("post_id", id), zap.Error(err))
		}
	}
	log.Info("seeded posts", zap.Strings("post_ids", ids))
}

// initRedis returns nil when REDIS_URL is unset or unreachable outside
// production, so the idempotency store can fall back to Postgres.
func initRedis(log *zap.Logger, cfg config.Config) redis.UniversalClient {
	if cfg.RedisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("redis url", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if cfg.App.IsProduction() {
			log.Error("redis ping failed in production", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("redis unavailable, idempotency falls back", zap.Error(err))
		return nil
	}
	log.Info("idempotency store: redis")
	return client
}

// initDispatcher connects the notification pipeline to JetStream. NATS is
// best effort: without it the dispatcher drops events with a warning.
func initDispatcher(log *zap.Logger, cfg config.Config, m *metrics.Metrics) (*notify.Dispatcher, func()) {
	dcfg := notify.Config{
		Workers:    cfg.NotifyWorkers,
		QueueSize:  cfg.NotifyQueue,
		MaxRetries: cfg.NotifyRetries,
		BaseDelay:  cfg.NotifyBaseDelay,
	}
	opts := []notify.Option{notify.WithLogger(log), notify.WithMetrics(m)}

	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.App.ServiceName})
	if err != nil {
		log.Error("nats connect, notifications disabled", zap.Error(err))
		return notify.NewDispatcher(nil, dcfg, opts...), nil
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		log.Error("jetstream context, notifications disabled", zap.Error(err))
		return notify.NewDispatcher(nil, dcfg, opts...), nil
	}
	if err := natsconn.EnsureStream(js, notify.StreamName, notify.SubjectCommentCreated, streamMaxAge); err != nil {
		nc.Close()
		log.Error("ensure stream, notifications disabled", zap.Error(err))
		return notify.NewDispatcher(nil, dcfg, opts...), nil
	}

	cb := notify.NewBreaker("comment-notifications", cfg.CBFailureThreshold, cfg.CBTimeout, log)
	opts = append(opts, notify.WithCircuitBreaker(cb))
	pub := notify.NewJetStreamPublisher(js, notify.SubjectCommentCreated)
	return notify.NewDispatcher(pub, dcfg, opts...), func() { _ = nc.Drain() }
}

func readiness(s store.CommentStore, rdb redis.UniversalClient) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
}

func stopGRPC(srv *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopAfter):
		srv.Stop()
	}
}
