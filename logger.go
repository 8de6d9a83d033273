package treeindex

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with index-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithKind adds the tree kind to the logger.
func (l *Logger) WithKind(kind Kind) *Logger {
	return &Logger{
		Logger: l.Logger.With("kind", kind.String()),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogInsert logs the insertion of count objects.
func (l *Logger) LogInsert(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"count", count,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "insert completed", "count", count)
}

// LogDelete logs the removal of count objects.
func (l *Logger) LogDelete(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"count", count,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "delete completed", "count", count)
}

// LogSearch logs a kNN, range or reverse kNN query.
func (l *Logger) LogSearch(ctx context.Context, kind string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"query", kind,
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"query", kind,
		"k", k,
		"results", resultsFound,
	)
}

// LogBulkLoad logs a bulk load.
func (l *Logger) LogBulkLoad(ctx context.Context, count int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "bulk load failed",
			"count", count,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "bulk load completed",
		"count", count,
		"elapsed", elapsed,
	)
}

// LogSnapshot logs a snapshot export or restore.
func (l *Logger) LogSnapshot(ctx context.Context, op, name string, pages int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"op", op,
			"name", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot completed",
		"op", op,
		"name", name,
		"pages", pages,
	)
}
