// Package logging configures the process-wide zerolog logger and hands out
// component and request scoped children.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldTicker    = "ticker"
	FieldNode      = "node"
)

type Options struct {
	Level  string
	Format string // console | json
	Output io.Writer
}

// Setup replaces the global logger. Unknown levels fall back to info.
// Call it once at startup, before other goroutines log; reloads go through
// SetLevel.
func Setup(opts Options) zerolog.Logger {
	SetLevel(opts.Level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var zl zerolog.Logger
	switch strings.ToLower(opts.Format) {
	case "json":
		zl = zerolog.New(out)
	default:
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
	}
	zl = zl.With().Timestamp().Logger()

	log.Logger = zl
	zerolog.DefaultContextLogger = &log.Logger
	return zl
}

// SetLevel changes only the global level, which zerolog stores atomically,
// so it is safe while other goroutines are logging.
func SetLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// Component returns a child of the global logger tagged with name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str(FieldComponent, name).Logger()
}

// WithRequestID stores a logger carrying id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	l := FromContext(ctx).With().Str(FieldRequestID, id).Logger()
	return l.WithContext(ctx)
}

// FromContext returns the logger attached to ctx, or the global logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &log.Logger
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &log.Logger
	}
	return l
}
