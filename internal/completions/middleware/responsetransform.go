package middleware

import (
	"context"

	"github.com/google/uuid"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

// prependStream yields one chunk ahead of an underlying stream without
// materializing the rest, so the synthetic llm_response_created chunk costs
// nothing beyond the check on the first Next call.
type prependStream struct {
	first chunk.Chunk
	sent  bool
	rest  chunk.Stream
}

func (s *prependStream) Next(ctx context.Context) (chunk.Chunk, bool, error) {
	if !s.sent {
		s.sent = true
		return s.first, true, nil
	}
	return s.rest.Next(ctx)
}

// ResponseTransformMiddleware drives the inner chain (which ends at
// SdkCallMiddleware and populates p.internal.rawOutput), then builds the
// generic-chunk stream from that raw output and prepends a synthetic
// llm_response_created chunk, matching the source system's eager emission
// of that event before any vendor content arrives.
func ResponseTransformMiddleware(c client.Client) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			if _, err := next(ctx, p); err != nil {
				return nil, err
			}

			p.internal.responseID = uuid.NewString()
			s := c.ResponseChunkTransformer().Transform(ctx, p.internal.rawOutput)
			return &prependStream{first: chunk.ResponseCreated(p.internal.responseID), rest: s}, nil
		}
	}
}
