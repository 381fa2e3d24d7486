// Package logging provides structured logging for the fault log store.
//
// This package wraps the standard library's log/slog package so every
// component logs the same way. It supports text and JSON output, a
// configurable level, and component-scoped loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false)
//
//	// Get a component logger
//	log := logging.Component("ingestion")
//	log.Info("record stored", "seq", h.Seq, "category", h.Category)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu sync.RWMutex

	// Logger is the global logger instance.
	Logger *slog.Logger
)

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a config string ("debug", "info", "warn", "error") to a level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func base() *slog.Logger {
	mu.RLock()
	l := Logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(slog.LevelInfo, false)
	mu.RLock()
	defer mu.RUnlock()
	return Logger
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return base().With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("wal")
//	log.Info("segment rotated") // Output: time=... level=INFO component=wal msg="segment rotated"
func Component(name string) *slog.Logger {
	return base().With("component", name)
}

// WithContext returns a logger that includes context values.
func WithContext(ctx context.Context) *slog.Logger {
	logger := base()

	if module, ok := ctx.Value(contextKeyModule).(string); ok {
		logger = logger.With("module", module)
	}
	if requestID, ok := ctx.Value(contextKeyRequestID).(uint64); ok {
		logger = logger.With("request_id", requestID)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyModule contextKey = iota
	contextKeyRequestID
)

// ContextWithModule adds the calling module to the context for logging.
func ContextWithModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, contextKeyModule, module)
}

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID uint64) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	base().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	base().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	base().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	base().Error(msg, args...)
}
