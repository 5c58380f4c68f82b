package middleware

import (
	"context"
	"encoding/json"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/toolregistry"
)

// maxToolRecursionDepth bounds the recursive tool-call loop (spec.md §4.7.2).
// A model that keeps requesting tools past this depth is treated as stuck.
const maxToolRecursionDepth = 20

// McpToolChunkMiddleware implements the recursive tool-call loop: it
// intercepts mcp_tool_created chunks instead of forwarding them, dispatches
// each call through registry once the stream dries up, and re-enters the
// full chain with the tool results folded into the next round's messages.
func McpToolChunkMiddleware(c client.Client, registry toolregistry.Registry) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			s, err := next(ctx, p)
			if err != nil {
				return nil, err
			}

			var forwarded []chunk.Chunk
			var pendingCalls []chunk.ToolCall
			var text string

			for {
				ck, ok, err := s.Next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				if ck.Kind == chunk.KindMcpToolCreated {
					pendingCalls = append(pendingCalls, ck.ToolCalls...)
					continue
				}
				if ck.Kind == chunk.KindTextDelta {
					text += ck.Text
				}
				forwarded = append(forwarded, ck)
			}

			if len(pendingCalls) == 0 {
				return chunk.NewSliceStream(forwarded), nil
			}
			if p.RecursionDepth >= maxToolRecursionDepth {
				return nil, &ToolRecursionExceeded{Depth: p.RecursionDepth}
			}

			results := make([]client.ToolResult, 0, len(pendingCalls))
			for _, call := range pendingCalls {
				args := resolveToolArguments(call, p.ToolArgumentOverrides)
				raw, dispatchErr := registry.Dispatch(ctx, call.Name, []byte(args))
				result := client.ToolResult{ToolCallID: call.ID, Content: string(raw)}
				if dispatchErr != nil {
					result.Content = dispatchErr.Error()
					result.IsError = true
				}
				results = append(results, result)
			}

			nextMessages := c.BuildSDKMessages(p.internal.processedMessages, text, pendingCalls, results)

			childParams := *p
			childParams.IsRecursiveCall = true
			childParams.RecursionDepth = p.RecursionDepth + 1
			childParams.PrebuiltMessages = nextMessages

			childStream, err := p.internal.enhancedCompletions(ctx, &childParams)
			if err != nil {
				return nil, err
			}
			childChunks, err := chunk.Collect(ctx, childStream)
			if err != nil {
				return nil, err
			}
			forwarded = append(forwarded, childChunks...)

			return chunk.NewSliceStream(forwarded), nil
		}
	}
}

// resolveToolArguments merges a tool call's original arguments with its
// permission-resolved override, if any (spec.md §4.7.2: "permission-resolved
// arguments (user-supplied values) take precedence over original and
// intermediate arguments when merging the final tool response"). Only
// top-level keys present in the override replace the call's own value; keys
// the override doesn't mention keep their original value. A call with no
// override, or arguments that aren't a JSON object, pass through unchanged.
func resolveToolArguments(call chunk.ToolCall, overrides map[string]json.RawMessage) string {
	override, ok := overrides[call.ID]
	if !ok || len(override) == 0 {
		return call.Arguments
	}

	merged := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &merged); err != nil {
			return call.Arguments
		}
	}

	var resolved map[string]any
	if err := json.Unmarshal(override, &resolved); err != nil {
		return call.Arguments
	}
	for k, v := range resolved {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return call.Arguments
	}
	return string(out)
}
