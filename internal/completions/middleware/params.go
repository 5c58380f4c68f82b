// Package middleware implements the Middleware Composer & Stack (C7): the
// vendor-agnostic chain that turns one CoreRequest into a generic-chunk
// stream, including the recursive tool-call loop and thinking extraction.
package middleware

import (
	"context"
	"encoding/json"
	"sync"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
)

// OnChunk receives each generic chunk the stack surfaces to the caller.
type OnChunk func(c chunk.Chunk)

// accumulator merges usage/metrics observed across a top-level call and
// every recursive tool-call round it spawns, guarded by a mutex since
// nothing in this package currently runs rounds concurrently but a future
// parallel tool-call batch would share this same accumulator.
type accumulator struct {
	mu      sync.Mutex
	usage   chunk.Usage
	metrics chunk.Metrics
}

func (a *accumulator) merge(usage *chunk.Usage, metrics *chunk.Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if usage != nil {
		a.usage.PromptTokens += usage.PromptTokens
		a.usage.CompletionTokens += usage.CompletionTokens
		a.usage.TotalTokens += usage.TotalTokens
		a.usage.ThoughtsTokens += usage.ThoughtsTokens
		a.usage.Cost += usage.Cost
	}
	if metrics != nil {
		if metrics.TimeFirstTokenMillsec != 0 && a.metrics.TimeFirstTokenMillsec == 0 {
			a.metrics.TimeFirstTokenMillsec = metrics.TimeFirstTokenMillsec
		}
		a.metrics.TimeCompletionMillsec += metrics.TimeCompletionMillsec
		a.metrics.TimeThinkingMillsec += metrics.TimeThinkingMillsec
	}
}

func (a *accumulator) snapshot() (chunk.Usage, chunk.Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage, a.metrics
}

// internalState is the Go analogue of spec.md §4.7's `ctx._internal`: working
// data private to the middleware stack, threaded through one call's chain
// without being part of the caller-facing Params fields.
type internalState struct {
	sdkPayload          client.SDKPayload
	rawOutput           client.RawOutput
	responseID          string
	processedMessages   []client.Message
	assistantMessage    string
	enhancedCompletions Next
	accumulator         *accumulator
}

// Params is the mutable per-call context threaded through the middleware
// chain. A recursive tool-call round gets its own copy (see the tool loop in
// toolloop.go) with IsRecursiveCall/RecursionDepth/PrebuiltMessages updated,
// sharing the original call's accumulator and OnChunk callback.
type Params struct {
	Request          client.CoreRequest
	IsRecursiveCall  bool
	RecursionDepth   int
	PrebuiltMessages []client.Message
	OnChunk          OnChunk

	// ToolArgumentOverrides carries permission-resolved arguments (spec.md
	// §4.7.2): user-supplied values, keyed by tool_call.ID, that a caller
	// resolved (e.g. via an approval UI) before the call reached this
	// chain. McpToolChunkMiddleware merges these over a call's original
	// arguments, override wins, before dispatching to the tool registry.
	ToolArgumentOverrides map[string]json.RawMessage

	internal internalState
}

// NewParams builds the top-level Params for a fresh (non-recursive) call.
func NewParams(req client.CoreRequest, onChunk OnChunk) *Params {
	return &Params{Request: req, OnChunk: onChunk}
}

// Next is one link in the middleware chain: given the inbound Params it
// drives the call forward and returns the generic-chunk stream produced by
// everything inside it.
type Next func(ctx context.Context, p *Params) (chunk.Stream, error)

// Middleware wraps a Next with additional behavior, the same shape as
// `func(http.Handler) http.Handler` (teacher: internal/auth/middleware.go),
// generalized from serving one HTTP request to producing one chunk stream.
type Middleware func(next Next) Next

// Compose builds one Next out of middlewares applied outer-to-inner: the
// first middleware in the list is outermost, base is innermost. Mirrors
// net/http middleware chaining, composed right-to-left per spec.md §4.7.
func Compose(base Next, middlewares ...Middleware) Next {
	result := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		result = middlewares[i](result)
	}
	return result
}
