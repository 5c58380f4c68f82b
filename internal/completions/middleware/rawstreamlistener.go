package middleware

import (
	"context"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

// RawStreamListenerMiddleware attaches a final-text listener to the raw SDK
// output for vendors that expose event-emitter semantics (spec.md §4.7,
// stage 8). Vendors that don't support it (client.AttachRawStreamListener
// returning false) are unaffected; the assistant's final text is still
// derivable from the accumulated text_delta chunks downstream.
func RawStreamListenerMiddleware(c client.Client) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			s, err := next(ctx, p)
			if err != nil {
				return nil, err
			}
			if p.internal.rawOutput != nil {
				c.AttachRawStreamListener(p.internal.rawOutput, func(finalText string) {
					p.internal.assistantMessage = finalText
				})
			}
			return s, nil
		}
	}
}
