package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	platformconfig "github.com/example/blog-platform/internal/platform/config"
	"github.com/example/blog-platform/internal/platform/httpserver"
)

type Config struct {
	App         platformconfig.AppConfig
	DatabaseURL string
	NATSURL     string
	RedisURL    string
	JWTSecret   string
	JWTIssuer   string
	AutoMigrate bool

	StoreTimeout   time.Duration
	IdempotencyTTL time.Duration

	// Notification dispatch.
	NotifyWorkers      int
	NotifyQueue        int
	NotifyRetries      int
	NotifyBaseDelay    time.Duration
	CBFailureThreshold uint32
	CBTimeout          time.Duration

	// Per-IP limit on write routes.
	RateLimitRPS   float64
	RateLimitBurst int
	// Proxies allowed to set X-Forwarded-For. Empty means the peer address
	// is always the client.
	TrustedProxies []netip.Prefix

	// Posts seeded into the in-memory store when running without Postgres.
	DevPosts []string
}

func Load() (Config, error) {
	app, err := platformconfig.Load()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		App:                app,
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		NATSURL:            strings.TrimSpace(os.Getenv("NATS_URL")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:          strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		AutoMigrate:        envBool("COMMENTS_AUTO_MIGRATE", !app.IsProduction()),
		StoreTimeout:       envDuration("COMMENTS_STORE_TIMEOUT", 5*time.Second),
		IdempotencyTTL:     envDuration("COMMENTS_IDEMPOTENCY_TTL", 24*time.Hour),
		NotifyWorkers:      envInt("COMMENTS_NOTIFY_WORKERS", 4),
		NotifyQueue:        envInt("COMMENTS_NOTIFY_QUEUE", 256),
		NotifyRetries:      envInt("COMMENTS_NOTIFY_RETRIES", 3),
		NotifyBaseDelay:    envDuration("COMMENTS_NOTIFY_BASE_DELAY", time.Second),
		CBFailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),
		CBTimeout:          envDuration("CB_TIMEOUT", 30*time.Second),
		RateLimitRPS:       envFloat("COMMENTS_RATE_LIMIT_RPS", 1),
		RateLimitBurst:     envInt("COMMENTS_RATE_LIMIT_BURST", 10),
		DevPosts:           envList("COMMENTS_DEV_POSTS", []string{"welcome"}),
	}

	cfg.TrustedProxies, err = httpserver.ParseTrustedProxies(envList("TRUSTED_PROXIES", nil))
	if err != nil {
		return Config{}, err
	}

	if app.IsProduction() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when APP_ENV=%s", app.Env)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET is required when APP_ENV=%s", app.Env)
		}
	}
	return cfg, nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
