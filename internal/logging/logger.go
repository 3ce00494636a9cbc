// Package logging is warden's slog front end: one process logger with a
// runtime-adjustable level, scoped per component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents log severity levels.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	// levelOff is above every level slog emits.
	levelOff = LevelError + 4
)

var processLogger atomic.Pointer[Logger]

// Logger is a slog.Logger whose level is shared by every logger derived
// from it.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Output io.Writer
	// JSON selects slog's JSON handler over the console format.
	JSON       bool
	AddSource  bool
	TimeFormat string
}

// DefaultConfig logs info and above to stderr in console format.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		ch := NewConsoleHandler(out, opts)
		if cfg.TimeFormat != "" {
			ch.timeFormat = cfg.TimeFormat
		}
		h = ch
	}
	return &Logger{Logger: slog.New(h), level: level}
}

// Setup builds the process logger from the config file's log_level and
// log_json settings and installs it as the default. An unknown level is
// returned as an error alongside a logger at info.
func Setup(level string, json bool, out io.Writer) (*Logger, error) {
	cfg := DefaultConfig()
	cfg.Output = out
	cfg.JSON = json
	lvl, err := ParseLevel(level)
	cfg.Level = lvl
	l := New(cfg)
	SetDefault(l)
	return l, err
}

// Default returns the process logger. Until SetDefault is called it logs
// at info to stderr.
func Default() *Logger {
	if l := processLogger.Load(); l != nil {
		return l
	}
	processLogger.CompareAndSwap(nil, New(DefaultConfig()))
	return processLogger.Load()
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) {
	processLogger.Store(l)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Level: levelOff, Output: io.Discard})
}

// ParseLevel maps a config string to a Level. Unknown strings yield Info
// and an error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off", "none":
		return levelOff, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// SetLevel changes the level of l and of every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() Level {
	return l.level.Level()
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent scopes l to one package: firewall, exposure, stats, state,
// monitor or api.
func (l *Logger) WithComponent(name string) *Logger {
	return l.with("component", name)
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// WithComponent scopes the process logger.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
