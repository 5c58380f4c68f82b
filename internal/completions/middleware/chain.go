package middleware

import (
	"context"
	"encoding/json"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/toolregistry"
)

// ChainOptions controls which conditional stages DefaultChain includes.
type ChainOptions struct {
	ReasoningEnabled bool
	WebSearchEnabled bool
	HasTools         bool

	// ToolArgumentOverrides carries permission-resolved tool-call arguments
	// (spec.md §4.7.2), keyed by tool_call.ID, through to Params so
	// McpToolChunkMiddleware can apply them. See resolveToolArguments.
	ToolArgumentOverrides map[string]json.RawMessage
}

// DefaultChain builds the ten-stage default middleware chain in
// outer-to-inner order (spec.md §4.7), dropping stages that don't apply to
// this call: ThinkChunkMiddleware when reasoning is disabled, WebSearchMiddleware
// when web search is disabled, and McpToolChunkMiddleware when the assistant
// exposes no tools.
func DefaultChain(c client.Client, registry toolregistry.Registry, opts ChainOptions) []Middleware {
	chain := []Middleware{
		ErrorHandlerMiddleware(),
		FinalChunkConsumerMiddleware(),
	}
	if opts.HasTools {
		chain = append(chain, McpToolChunkMiddleware(c, registry))
	}
	if opts.ReasoningEnabled {
		chain = append(chain, ThinkChunkMiddleware())
	}
	if opts.WebSearchEnabled {
		chain = append(chain, WebSearchMiddleware())
	}
	chain = append(chain,
		ResponseTransformMiddleware(c),
		StreamAdapterMiddleware(),
		RawStreamListenerMiddleware(c),
		TransformCoreToSdkParamsMiddleware(c),
		SdkCallMiddleware(c),
	)
	return chain
}

// Complete runs one top-level completion call through the default chain,
// wiring enhancedCompletions so the tool loop can recursively re-enter the
// exact same composed chain for each follow-up round.
func Complete(ctx context.Context, c client.Client, registry toolregistry.Registry, opts ChainOptions, req client.CoreRequest, onChunk OnChunk) (chunk.Stream, error) {
	chain := DefaultChain(c, registry, opts)
	composed := Compose(baseNext, chain...)

	p := NewParams(req, onChunk)
	p.internal.enhancedCompletions = composed
	p.ToolArgumentOverrides = opts.ToolArgumentOverrides

	return composed(ctx, p)
}
