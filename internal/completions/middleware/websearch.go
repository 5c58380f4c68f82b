package middleware

import (
	"context"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/observability"
)

// WebSearchMiddleware is a passthrough stage that logs web-search
// completions for observability; the actual citation folding happens in
// blockmanager, which is the sole owner of block persistence.
func WebSearchMiddleware() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			s, err := next(ctx, p)
			if err != nil {
				return nil, err
			}

			log := observability.Component("completions.middleware.websearch")
			var out []chunk.Chunk
			searches := 0

			for {
				c, ok, err := s.Next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				if c.Kind == chunk.KindWebSearchComplete {
					searches++
					log.Debug().Int("citations", len(c.Citations)).Int("count", searches).Msg("web search completed")
				}
				out = append(out, c)
			}

			return chunk.NewSliceStream(out), nil
		}
	}
}
