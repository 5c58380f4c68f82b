package middleware

import "fmt"

// SDKError wraps any error surfaced by a vendor SDK call or a request/response
// transformer, so ErrorHandlerMiddleware can convert it into a generic error
// chunk without losing the underlying cause.
type SDKError struct {
	Cause error
}

func (e *SDKError) Error() string { return fmt.Sprintf("completions: sdk error: %v", e.Cause) }

func (e *SDKError) Unwrap() error { return e.Cause }

// ToolRecursionExceeded is returned by the tool loop when a model keeps
// requesting tool calls past the maximum recursion depth (spec.md §4.7.2).
type ToolRecursionExceeded struct {
	Depth int
}

func (e *ToolRecursionExceeded) Error() string {
	return fmt.Sprintf("completions: tool-call recursion exceeded depth %d", e.Depth)
}
