// Package logger configures the process-wide slog logger and hands out
// component- and job-scoped child loggers.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey struct{}

// Setup installs the default logger. Logs go to stderr so that command
// output on stdout stays machine readable.
func Setup(level string, format string) {
	SetupWriter(os.Stderr, level, format)
}

func SetupWriter(w io.Writer, level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithJob stores the pipeline job ID in ctx.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, contextKey{}, jobID)
}

// JobID returns the job ID stored by WithJob, or "".
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if jobID := JobID(ctx); jobID != "" {
		logger = logger.With("job_id", jobID)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// ForStage returns a job-scoped logger tagged with the stage name.
func ForStage(ctx context.Context, stage string) *slog.Logger {
	return FromContext(ctx).With("component", "stage", "stage", stage)
}

func parseLevel(level string) slog.Level {
	switch level {
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
