package middleware

import (
	"context"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

// SdkCallMiddleware is the innermost stage: it issues the actual vendor
// call with the payload built by TransformCoreToSdkParamsMiddleware and
// stores the raw output for ResponseTransformMiddleware and
// RawStreamListenerMiddleware to consume on the way back out.
func SdkCallMiddleware(c client.Client) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			raw, err := c.CreateCompletions(ctx, p.internal.sdkPayload)
			if err != nil {
				return nil, &SDKError{Cause: err}
			}
			p.internal.rawOutput = raw
			return next(ctx, p)
		}
	}
}

// baseNext is the terminal link of the chain: it returns an empty stream so
// every outer stage's "drain next(ctx,p)" logic has something to range over.
func baseNext(ctx context.Context, p *Params) (chunk.Stream, error) {
	return chunk.NewSliceStream(nil), nil
}
