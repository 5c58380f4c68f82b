// Package toolregistry holds the tool-dispatch contract shared by the MCP
// client and the completions tool loop, adapted from the teacher's
// internal/tools package (fixing its dangling internal/llm import by
// depending on the completions client contract directly).
package toolregistry

import (
	"context"
	"encoding/json"

	"chatforge/internal/completions/client"
)

// Tool is an executable capability the tool loop can call.
type Tool interface {
	Name() string
	JSONSchema() map[string]any
	Call(ctx context.Context, raw json.RawMessage) (any, error)
}

// Registry keeps track of tools and dispatches calls by name.
type Registry interface {
	Schemas() []client.ToolSchema
	Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error)
	Register(t Tool)
	Unregister(name string)
}

type defaultRegistry struct {
	byName map[string]Tool
}

// New returns a basic in-memory registry.
func New() Registry {
	return &defaultRegistry{byName: make(map[string]Tool)}
}

func (r *defaultRegistry) Register(t Tool)        { r.byName[t.Name()] = t }
func (r *defaultRegistry) Unregister(name string) { delete(r.byName, name) }

func (r *defaultRegistry) Schemas() []client.ToolSchema {
	out := make([]client.ToolSchema, 0, len(r.byName))
	for name, t := range r.byName {
		schema := t.JSONSchema()
		out = append(out, client.ToolSchema{
			Name:        name,
			Description: strFrom(schema["description"]),
			Parameters:  mapFrom(schema["parameters"]),
		})
	}
	return out
}

func (r *defaultRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	t, ok := r.byName[name]
	if !ok {
		return []byte(`{"error":"tool not found"}`), nil
	}
	val, err := t.Call(ctx, raw)
	if err != nil {
		b, _ := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
		return b, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func strFrom(v any) string         { s, _ := v.(string); return s }
func mapFrom(v any) map[string]any { m, _ := v.(map[string]any); return m }
