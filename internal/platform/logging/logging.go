package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	console bool
}

// Option tunes the logger built by New.
type Option func(*options)

// Console switches to the human-readable encoder used in local development.
func Console() Option {
	return func(o *options) { o.console = true }
}

// New builds the service logger: JSON with an ISO8601 "ts" key unless
// Console is given. Unknown levels fall back to info.
func New(level, service string, opts ...Option) (*zap.Logger, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if o.console {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "ts"
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if service != "" {
		cfg.InitialFields = map[string]any{"service": service}
	}
	return cfg.Build()
}
