package openai

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/packages/ssestream"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

// responseChunkTransformer is stateful per call: it accumulates tool-call
// argument fragments keyed by the SDK's tc.Index (not iteration order,
// which vendors are free to interleave across deltas), mirroring the
// teacher's openai/client.go accumulation loop.
type responseChunkTransformer struct{}

type accumulatingToolCall struct {
	id   string
	name string
	args string
}

func (t *responseChunkTransformer) Transform(ctx context.Context, raw client.RawOutput) chunk.Stream {
	stream, ok := raw.(*ssestream.Stream[openai.ChatCompletionChunk])
	if !ok {
		return chunk.NewSliceStream([]chunk.Chunk{
			chunk.Error(errUnexpectedRawType),
		})
	}

	out := make(chan chunk.Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)

		toolCalls := map[int64]*accumulatingToolCall{}
		order := []int64{}
		var usage *chunk.Usage

		emit := func(c chunk.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(chunk.ResponseCreated("")) {
			return
		}

		for stream.Next() {
			part := stream.Current()
			if len(part.Choices) == 0 {
				continue
			}
			choice := part.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				if !emit(chunk.Text(delta.Content)) {
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				idx := tc.Index
				acc, seen := toolCalls[idx]
				if !seen {
					acc = &accumulatingToolCall{}
					toolCalls[idx] = acc
					order = append(order, idx)
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args += tc.Function.Arguments
			}

			if part.Usage.TotalTokens > 0 {
				usage = &chunk.Usage{
					PromptTokens:     int(part.Usage.PromptTokens),
					CompletionTokens: int(part.Usage.CompletionTokens),
					TotalTokens:      int(part.Usage.TotalTokens),
				}
			}

			if choice.FinishReason == "tool_calls" && len(order) > 0 {
				calls := make([]chunk.ToolCall, 0, len(order))
				for _, idx := range order {
					acc := toolCalls[idx]
					calls = append(calls, chunk.ToolCall{ID: acc.id, Name: acc.name, Arguments: acc.args})
				}
				if !emit(chunk.McpToolCreated(calls)) {
					return
				}
				toolCalls = map[int64]*accumulatingToolCall{}
				order = nil
			}
		}

		if err := stream.Err(); err != nil {
			errc <- err
			return
		}

		emit(chunk.ResponseComplete(usage, nil))
	}()

	return chunk.ChannelStream{Ch: out, ErrC: errc}
}

var errUnexpectedRawType = unexpectedRawTypeError{}

type unexpectedRawTypeError struct{}

func (unexpectedRawTypeError) Error() string {
	return "openai: response chunk transformer received an unexpected raw output type"
}
