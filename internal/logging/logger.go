// Package logging owns the process-wide structured logger: a slog handler
// writing JSON lines to a rotated file, mirrored into an in-memory ring
// buffer that can be dumped for post-mortem debugging.
package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every record created via ForComponent.
const (
	CompStatus  = "status"
	CompSched   = "sched"
	CompSampler = "sampler"
	CompInject  = "inject"
	CompNotif   = "notif"
	CompHooks   = "hooks"
	CompStore   = "store"
	CompWeb     = "web"
	CompConfig  = "config"
	CompUI      = "ui"
)

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files (e.g. ~/.agent-tower)
	LogDir string

	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int

	// MaxAgeDays is days to keep rotated files (default: 10)
	MaxAgeDays int

	// Compress rotated files (default: true)
	Compress bool

	// RingBufferSize is the in-memory ring buffer size in bytes (default: 1MB)
	RingBufferSize int

	// Debug indicates whether debug mode is active
	Debug bool
}

// state bundles everything Init builds, so setup and teardown swap one
// value under the lock.
type state struct {
	logger *slog.Logger
	ring   *RingBuffer
	file   *lumberjack.Logger
}

var (
	stateMu sync.RWMutex
	current *state
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logging system.
// When debug is false and no log dir is provided, logs are discarded.
func Init(cfg Config) {
	// Without a destination there is nothing to write; keep a ring buffer
	// anyway so DumpRingBuffer stays safe to call.
	if !cfg.Debug && cfg.LogDir == "" {
		stateMu.Lock()
		current = &state{
			logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
			ring:   NewRingBuffer(1024),
		}
		stateMu.Unlock()
		return
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "tower.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	ring := NewRingBuffer(cfg.RingBufferSize)

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	sink := io.MultiWriter(file, ring)
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}

	stateMu.Lock()
	current = &state{logger: slog.New(handler), ring: ring, file: file}
	stateMu.Unlock()
}

// Logger returns the global logger. Safe to call before Init (returns a
// discard logger).
func Logger() *slog.Logger {
	stateMu.RLock()
	st := current
	stateMu.RUnlock()
	if st == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return st.logger
}

// ForComponent returns a sub-logger with the component field set. The
// returned logger resolves the global handler at log time, so component
// loggers declared as package-level vars pick up the real handler once
// Init runs.
func ForComponent(name string) *slog.Logger {
	return slog.New(&componentHandler{component: name})
}

// componentHandler delegates to whatever the global handler is right now,
// prefixing the component attribute.
type componentHandler struct {
	component string
	attrs     []slog.Attr
	group     string
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	target := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		target = target.WithAttrs(h.attrs)
	}
	if h.group != "" {
		target = target.WithGroup(h.group)
	}
	return target.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &componentHandler{component: h.component, attrs: merged, group: h.group}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{component: h.component, attrs: h.attrs, group: name}
}

// DumpRingBuffer writes the ring buffer contents to a file.
func DumpRingBuffer(path string) error {
	stateMu.RLock()
	st := current
	stateMu.RUnlock()
	if st == nil || st.ring == nil {
		return nil
	}
	return st.ring.DumpToFile(path)
}

// Shutdown closes the log file and resets the global state.
func Shutdown() {
	stateMu.Lock()
	defer stateMu.Unlock()
	if current != nil && current.file != nil {
		_ = current.file.Close()
	}
	current = nil
}
