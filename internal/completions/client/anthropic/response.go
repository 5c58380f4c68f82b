package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

type responseChunkTransformer struct{}

// thinkingData carries the extended-thinking signature Claude requires to
// be echoed back on the next turn; kept here rather than threaded through
// client.Message because only Claude's multi-turn thinking needs it.
type thinkingData struct {
	Signature string
	Thinking  string
}

type pendingToolUse struct {
	id        string
	name      string
	jsonInput string
}

func (t *responseChunkTransformer) Transform(ctx context.Context, raw client.RawOutput) chunk.Stream {
	stream, ok := raw.(*ssestream.Stream[anthropicsdk.MessageStreamEventUnion])
	if !ok {
		return chunk.NewSliceStream([]chunk.Chunk{chunk.Error(errUnexpectedRawType)})
	}

	out := make(chan chunk.Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)

		var toolUses []pendingToolUse
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
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				if tu := event.ContentBlock.AsToolUse(); tu.ID != "" {
					toolUses = append(toolUses, pendingToolUse{id: tu.ID, name: tu.Name})
				}
			case "content_block_delta":
				switch delta := event.Delta.AsAny().(type) {
				case anthropicsdk.TextDelta:
					if !emit(chunk.Text(delta.Text)) {
						return
					}
				case anthropicsdk.ThinkingDelta:
					if !emit(chunk.ThinkingDelta(delta.Thinking, 0)) {
						return
					}
				case anthropicsdk.InputJSONDelta:
					if len(toolUses) > 0 {
						toolUses[len(toolUses)-1].jsonInput += delta.PartialJSON
					}
				}
			case "message_delta":
				if event.Usage.OutputTokens > 0 {
					usage = &chunk.Usage{
						CompletionTokens: int(event.Usage.OutputTokens),
						TotalTokens:      int(event.Usage.InputTokens + event.Usage.OutputTokens),
						PromptTokens:     int(event.Usage.InputTokens),
					}
				}
				if event.Delta.StopReason == "tool_use" && len(toolUses) > 0 {
					calls := make([]chunk.ToolCall, 0, len(toolUses))
					for _, tu := range toolUses {
						calls = append(calls, chunk.ToolCall{ID: tu.id, Name: tu.name, Arguments: tu.jsonInput})
					}
					if !emit(chunk.McpToolCreated(calls)) {
						return
					}
					toolUses = nil
				}
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
	return "anthropic: response chunk transformer received an unexpected raw output type"
}
