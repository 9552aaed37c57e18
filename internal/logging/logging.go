// Package logging builds the process-wide slog handler.
//
// The handler is constructed once at startup and the resulting logger is passed to every
// component. Records at INFO and below are written to stdout, records above INFO to stderr.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix for application settings
const EnvPrefix = "PROVIDER_MIRROR"

// Format selects the record encoding
type Format string

const (
	// FormatText writes logfmt-style key=value records
	FormatText Format = "text"
	// FormatJSON writes one JSON object per record
	FormatJSON Format = "json"
)

// Option configures NewHandler
type Option func(*handlerConfig)

type handlerConfig struct {
	level  slog.Leveler
	format Format
	stdout io.Writer
	stderr io.Writer
}

// WithLevel sets the minimum level
func WithLevel(level slog.Leveler) Option {
	return func(cfg *handlerConfig) {
		cfg.level = level
	}
}

// WithFormat sets the output format
func WithFormat(format Format) Option {
	return func(cfg *handlerConfig) {
		cfg.format = format
	}
}

// WithOutputs overrides the stdout and stderr destinations
func WithOutputs(stdout, stderr io.Writer) Option {
	return func(cfg *handlerConfig) {
		cfg.stdout = stdout
		cfg.stderr = stderr
	}
}

// NewHandler returns a handler that splits records between stdout and stderr by level
func NewHandler(opts ...Option) slog.Handler {
	cfg := &handlerConfig{
		level:  slog.LevelInfo,
		format: FormatText,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}
	newInner := func(w io.Writer) slog.Handler {
		if cfg.format == FormatJSON {
			return slog.NewJSONHandler(w, handlerOpts)
		}
		return slog.NewTextHandler(w, handlerOpts)
	}

	return &splitHandler{
		low:  newInner(cfg.stdout),
		high: newInner(cfg.stderr),
	}
}

// splitHandler routes records at or below INFO to low and everything above to high
type splitHandler struct {
	low  slog.Handler
	high slog.Handler
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level <= slog.LevelInfo {
		return h.low.Enabled(ctx, level)
	}
	return h.high.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level <= slog.LevelInfo {
		return h.low.Handle(ctx, r)
	}
	return h.high.Handle(ctx, r)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{low: h.low.WithAttrs(attrs), high: h.high.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{low: h.low.WithGroup(name), high: h.high.WithGroup(name)}
}

// ParseLevel maps a level name to a slog.Level. The empty string maps to INFO.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "critical":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// LevelFromEnv reads PROVIDER_MIRROR_LOG_LEVEL, falling back to LOG_LEVEL.
// Invalid values log a warning and yield INFO.
func LevelFromEnv() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

// FormatFromEnv reads PROVIDER_MIRROR_LOG_FORMAT; anything other than "json" selects text
func FormatFromEnv() Format {
	if strings.EqualFold(os.Getenv(EnvPrefix+"_LOG_FORMAT"), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}
