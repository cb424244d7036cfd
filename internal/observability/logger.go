package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/nlquery/nlquery/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// WithAnswerSource tags logger with the database dialect and prompt
// template version that shape every answer the process gives.
func WithAnswerSource(logger *slog.Logger, dialect, promptVersion string) *slog.Logger {
	return logger.With(
		slog.String("dialect", dialect),
		slog.String("prompt_version", promptVersion),
	)
}

// ForContext returns logger tagged with the trace id carried by ctx.
func ForContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return logger
	}
	return logger.With(slog.String("trace_id", traceID))
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
