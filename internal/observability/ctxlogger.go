package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

// WithRunID returns a context carrying a migration-run or completion-call
// identifier, surfaced on every log line emitted through LoggerFromContext.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runID)
}

// LoggerFromContext returns a logger enriched with the run id (if any) and
// the active OTel span's trace/span ids, mirroring the teacher's
// LoggerWithTrace helper.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	ctxLogger := log.Logger.With()
	if runID, ok := ctx.Value(ctxKey{}).(string); ok && runID != "" {
		ctxLogger = ctxLogger.Str("run_id", runID)
	}

	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		ctxLogger = ctxLogger.Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String())
	}

	return ctxLogger.Logger()
}
