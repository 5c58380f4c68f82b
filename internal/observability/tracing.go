package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is shared across the migration engine and the completions
// pipeline; both call StartSpan instead of holding their own tracer, since
// neither needs per-package sampling configuration.
const tracerName = "chatforge"

// StartSpan starts a span under the process-wide tracer. When no
// TracerProvider has been configured, otel.Tracer returns a no-op tracer, so
// callers never need to check whether tracing is enabled.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordTokenUsage annotates the active span with token accounting, mirroring
// the teacher's RecordTokenAttributes helper for OpenAI-compatible usage
// blocks.
func RecordTokenUsage(span trace.Span, promptTokens, completionTokens, totalTokens int) {
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", promptTokens),
		attribute.Int("llm.usage.completion_tokens", completionTokens),
		attribute.Int("llm.usage.total_tokens", totalTokens),
	)
}
