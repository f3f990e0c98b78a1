package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls global logger setup.
type Options struct {
	// Dir is the directory for rotated log files. Empty disables file output.
	Dir string
	// Level is the minimum level for both sinks.
	Level slog.Level
	// Console enables the text handler on stderr.
	Console bool
}

type multiHandler struct {
	handlers []slog.Handler
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return multiHandler{handlers: next}
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return multiHandler{handlers: next}
}

var (
	mu       sync.RWMutex
	root     *slog.Logger
	fileSink io.Closer
)

// Setup initializes the global logger. It is safe to call more than once;
// the last call wins. File output rotates via lumberjack (20 MiB, 5 backups).
func Setup(opts Options) error {
	var handlers []slog.Handler

	if opts.Console {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level}))
	}

	var sink io.Closer
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return err
		}
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "tux.log"),
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		sink = lj
		handlers = append(handlers, slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: opts.Level}))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level}))
	}

	logger := slog.New(multiHandler{handlers: handlers})

	mu.Lock()
	if fileSink != nil {
		_ = fileSink.Close()
	}
	root = logger
	fileSink = sink
	mu.Unlock()

	slog.SetDefault(logger)
	return nil
}

// Close flushes and closes the rotating file sink, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	return err
}

// Logger returns the global logger. Falls back to slog.Default before Setup.
func Logger() *slog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l == nil {
		return slog.Default()
	}
	return l
}

// Component returns the global logger scoped with a component attribute.
// Subsystems log through these so every line carries its origin.
func Component(name string) *slog.Logger {
	return Logger().With("component", name)
}
