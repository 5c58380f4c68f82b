package middleware

import (
	"context"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

// TransformCoreToSdkParamsMiddleware turns the vendor-agnostic CoreRequest
// into the concrete SDK payload, using PrebuiltMessages verbatim on a
// recursive tool-call round instead of re-deriving them from the assistant's
// configuration.
func TransformCoreToSdkParamsMiddleware(c client.Client) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			result, err := c.RequestTransformer().Transform(ctx, p.Request, p.IsRecursiveCall, p.PrebuiltMessages)
			if err != nil {
				return nil, &SDKError{Cause: err}
			}
			p.internal.sdkPayload = result.Payload
			p.internal.processedMessages = result.ProcessedMessages
			return next(ctx, p)
		}
	}
}
