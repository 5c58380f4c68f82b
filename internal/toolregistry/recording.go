package toolregistry

import (
	"context"
	"encoding/json"

	"chatforge/internal/completions/client"
)

// DispatchEvent captures a single tool dispatch invocation and result, used
// by the tool loop's caller to log/trace MCP calls without coupling the
// registry itself to any particular logger.
type DispatchEvent struct {
	Name    string
	Args    json.RawMessage
	Payload []byte
	Err     error
}

type recordingRegistry struct {
	base Registry
	on   func(DispatchEvent)
}

// NewRecording wraps an existing Registry and calls on for each Dispatch.
func NewRecording(base Registry, on func(DispatchEvent)) Registry {
	if base == nil {
		base = New()
	}
	return &recordingRegistry{base: base, on: on}
}

func (r *recordingRegistry) Register(t Tool)                    { r.base.Register(t) }
func (r *recordingRegistry) Unregister(name string)             { r.base.Unregister(name) }
func (r *recordingRegistry) Schemas() []client.ToolSchema        { return r.base.Schemas() }
func (r *recordingRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	payload, err := r.base.Dispatch(ctx, name, raw)
	if r.on != nil {
		r.on(DispatchEvent{Name: name, Args: raw, Payload: payload, Err: err})
	}
	return payload, err
}
