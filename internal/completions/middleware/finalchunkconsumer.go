package middleware

import (
	"context"

	"chatforge/internal/completions/chunk"
)

// FinalChunkConsumerMiddleware drains the stream produced by the rest of the
// chain, folds llm_response_complete/block_complete usage and metrics into
// the call's shared accumulator, and replaces them with a single synthetic
// block_complete emitted once the true top-level call finishes draining.
//
// A recursive tool-call round (IsRecursiveCall true) shares the top-level
// call's accumulator but never forwards chunks to OnChunk directly and never
// emits its own synthetic block_complete: its chunks are collected here and
// handed back to the tool loop, which re-appends them to the outer stream,
// so forwarding them again at this layer would deliver every chunk twice.
func FinalChunkConsumerMiddleware() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			if !p.IsRecursiveCall {
				p.internal.accumulator = &accumulator{}
			}
			acc := p.internal.accumulator

			s, err := next(ctx, p)
			if err != nil {
				return nil, err
			}

			var collected []chunk.Chunk
			for {
				c, ok, err := s.Next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				if c.Kind == chunk.KindResponseComplete || c.Kind == chunk.KindBlockComplete {
					acc.merge(c.Usage, c.Metrics)
					continue
				}
				if !p.IsRecursiveCall && p.OnChunk != nil {
					p.OnChunk(c)
				}
				collected = append(collected, c)
			}

			if !p.IsRecursiveCall {
				usage, metrics := acc.snapshot()
				synthetic := chunk.BlockComplete(&usage, &metrics)
				if p.OnChunk != nil {
					p.OnChunk(synthetic)
				}
				collected = append(collected, synthetic)
			}

			return chunk.NewSliceStream(collected), nil
		}
	}
}
