package google

import (
	"context"
	"iter"

	"google.golang.org/genai"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

type responseChunkTransformer struct{}

func (t *responseChunkTransformer) Transform(ctx context.Context, raw client.RawOutput) chunk.Stream {
	it, ok := raw.(iter.Seq2[*genai.GenerateContentResponse, error])
	if !ok {
		return chunk.NewSliceStream([]chunk.Chunk{chunk.Error(errUnexpectedRawType)})
	}

	out := make(chan chunk.Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)

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

		var usage *chunk.Usage
		var toolCalls []chunk.ToolCall

		for resp, err := range it {
			if err != nil {
				errc <- err
				return
			}
			if resp.UsageMetadata != nil {
				usage = &chunk.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
					ThoughtsTokens:   int(resp.UsageMetadata.ThoughtsTokenCount),
				}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				switch {
				case part.Thought && part.Text != "":
					if !emit(chunk.ThinkingDelta(part.Text, 0)) {
						return
					}
				case part.Text != "":
					if !emit(chunk.Text(part.Text)) {
						return
					}
				case part.FunctionCall != nil:
					args, _ := marshalArgs(part.FunctionCall.Args)
					toolCalls = append(toolCalls, chunk.ToolCall{
						ID:        part.FunctionCall.ID,
						Name:      part.FunctionCall.Name,
						Arguments: args,
					})
				}
			}
		}

		if len(toolCalls) > 0 {
			if !emit(chunk.McpToolCreated(toolCalls)) {
				return
			}
		}
		emit(chunk.ResponseComplete(usage, nil))
	}()

	return chunk.ChannelStream{Ch: out, ErrC: errc}
}

func marshalArgs(args map[string]any) (string, error) {
	return mapToJSON(args)
}

var errUnexpectedRawType = unexpectedRawTypeError{}

type unexpectedRawTypeError struct{}

func (unexpectedRawTypeError) Error() string {
	return "google: response chunk transformer received an unexpected raw output type"
}
