package segmerge

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger is a slog.Logger with helpers for the events of a table.
type Logger struct {
	*slog.Logger
}

// NewLogger logs to handler, or to stderr as text at info level when handler
// is nil.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger logs JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger logs key=value lines to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithSegment tags every record with a segment id.
func (l *Logger) WithSegment(id SegmentID) *Logger {
	return &Logger{Logger: l.With("segment", uint64(id))}
}

// WithField tags every record with a field or column id.
func (l *Logger) WithField(id FieldID) *Logger {
	return &Logger{Logger: l.With("field", uint32(id))}
}

// LogMerge logs the outcome of a merge plan. Duplicate primary keys in the
// output are reported as a separate warning.
func (l *Logger) LogMerge(ctx context.Context, plan Plan, res *MergeResult, err error) {
	l = l.WithSegment(plan.Target)
	if err != nil {
		l.ErrorContext(ctx, "merge failed", "inputs", len(plan.Segments), "error", err)
		return
	}
	l.InfoContext(ctx, "merge completed",
		"job", res.JobID.String(),
		"inputs", len(plan.Segments),
		"docs", res.Info.DocCount,
		"deleted", res.Deleted,
		"patches", res.Patches,
		"duration", res.Duration,
	)
	if res.DuplicateKeys > 0 {
		l.WarnContext(ctx, "duplicate primary keys", "duplicates", res.DuplicateKeys)
	}
}

// LogWorkItem logs a finished patch work item.
func (l *Logger) LogWorkItem(ctx context.Context, records int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "patch work item failed", "records", records, "error", err)
		return
	}
	l.DebugContext(ctx, "patch work item completed", "records", records, "duration", duration)
}

// LogPatch logs a patch generation written for one column.
func (l *Logger) LogPatch(ctx context.Context, segment SegmentID, column FieldID, records int, err error) {
	l = l.WithSegment(segment).WithField(column)
	if err != nil {
		l.ErrorContext(ctx, "patch write failed", "error", err)
		return
	}
	l.DebugContext(ctx, "patch written", "records", records)
}

// LogDelete logs documents marked deleted in a segment.
func (l *Logger) LogDelete(ctx context.Context, segment SegmentID, count int, err error) {
	l = l.WithSegment(segment)
	if err != nil {
		l.ErrorContext(ctx, "delete failed", "error", err)
		return
	}
	l.DebugContext(ctx, "documents deleted", "count", count)
}
