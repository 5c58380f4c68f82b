package middleware

import (
	"context"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/observability"
)

// ErrorHandlerMiddleware is the outermost stage: it converts any error
// surfaced by the rest of the chain into a single terminal error chunk
// rather than letting it propagate as a Go error, so a caller only ever
// needs to range over the returned stream. The original error (an *SDKError,
// a *ToolRecursionExceeded, or anything else) is preserved as-is on the
// chunk so callers can still type-switch on it.
func ErrorHandlerMiddleware() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			s, err := next(ctx, p)
			if err == nil {
				return s, nil
			}
			observability.Component("completions.middleware").Error().Err(err).Msg("completion failed")
			return chunk.NewSliceStream([]chunk.Chunk{chunk.Error(err)}), nil
		}
	}
}
