// Package mcpclient adapts the teacher's Manager to back the tool loop's
// "externally-provided helper" (spec §4.7.2): dispatching mcp_tool_created
// calls against real MCP servers defined in config, over the same
// github.com/modelcontextprotocol/go-sdk/mcp transport the teacher's
// internal/mcpclient uses.
package mcpclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"chatforge/internal/config"
	"chatforge/internal/observability"
	"chatforge/internal/toolregistry"
)

// clientName/clientVersion identify this process to MCP servers during the
// initialize handshake, the way the teacher passes its own version.Version.
const (
	clientName    = "chatforge"
	clientVersion = "0.1.0"
)

// Manager owns one MCP client session per configured server and exposes
// each server's tools through toolregistry.Registry, the way the teacher's
// Manager registers tools from config.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*mcppkg.ClientSession
	toolName map[string][]string
}

// NewManager constructs a Manager without connecting to anything yet;
// RegisterFromConfig performs the actual connections.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*mcppkg.ClientSession),
		toolName: make(map[string][]string),
	}
}

// RegisterFromConfig connects to every configured MCP server and registers
// its tools into reg. A server that fails to connect or list tools is
// skipped rather than failing the whole batch, matching the teacher's
// RegisterFromConfig.
func (m *Manager) RegisterFromConfig(ctx context.Context, servers []config.MCPServerConfig, reg toolregistry.Registry) error {
	logger := observability.Component("mcpclient")

	for _, s := range servers {
		if err := m.registerOne(ctx, s, reg); err != nil {
			logger.Warn().Err(err).Str("server", s.Name).Msg("mcp server unreachable, skipping")
		}
	}
	return nil
}

func (m *Manager) registerOne(ctx context.Context, s config.MCPServerConfig, reg toolregistry.Registry) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("mcpclient: server name required")
	}
	m.removeOne(s.Name, reg)

	session, err := m.dial(ctx, s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[s.Name] = session
	m.mu.Unlock()

	var names []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			break
		}
		t := &mcpTool{serverName: s.Name, session: session, tool: tool}
		reg.Register(t)
		names = append(names, t.Name())
	}
	m.mu.Lock()
	m.toolName[s.Name] = names
	m.mu.Unlock()
	return nil
}

func (m *Manager) dial(ctx context.Context, s config.MCPServerConfig) (*mcppkg.ClientSession, error) {
	opts := &mcppkg.ClientOptions{}
	if s.KeepAliveSeconds > 0 {
		opts.KeepAlive = time.Duration(s.KeepAliveSeconds) * time.Second
	}
	c := mcppkg.NewClient(&mcppkg.Implementation{Name: clientName, Version: clientVersion}, opts)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout(s))
	defer cancel()

	switch {
	case s.Command != "":
		cmd := exec.Command(s.Command, s.Args...)
		if len(s.Env) > 0 {
			env := os.Environ()
			for k, v := range s.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		return c.Connect(dialCtx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case s.URL != "":
		transport := &mcppkg.StreamableClientTransport{Endpoint: s.URL, HTTPClient: buildMCPHTTPClient(s)}
		return c.Connect(dialCtx, transport, nil)
	default:
		return nil, fmt.Errorf("mcpclient: server %q has neither command nor url", s.Name)
	}
}

func dialTimeout(s config.MCPServerConfig) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// removeOne closes and forgets a previously registered server, matching the
// teacher's implicit update/replace RemoveOne step inside RegisterOne.
func (m *Manager) removeOne(name string, reg toolregistry.Registry) {
	m.mu.Lock()
	session, ok := m.sessions[name]
	names := m.toolName[name]
	delete(m.sessions, name)
	delete(m.toolName, name)
	m.mu.Unlock()

	if ok {
		_ = session.Close()
	}
	for _, n := range names {
		reg.Unregister(n)
	}
}

// Close tears down every connected server session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, s := range m.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", name, err)
		}
	}
	return firstErr
}

// mcpTool adapts one MCP-server tool to toolregistry.Tool.
type mcpTool struct {
	serverName string
	session    *mcppkg.ClientSession
	tool       *mcppkg.Tool
}

func (t *mcpTool) Name() string { return sanitizeName(t.serverName, t.tool.Name) }

func (t *mcpTool) JSONSchema() map[string]any {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if t.tool.InputSchema != nil {
		if b, err := json.Marshal(t.tool.InputSchema); err == nil {
			var m map[string]any
			if json.Unmarshal(b, &m) == nil && m != nil {
				for k, v := range m {
					params[k] = v
				}
			}
		}
	}
	sanitizeSchema(params)
	return map[string]any{
		"description": t.tool.Description,
		"parameters":  params,
	}
}

func (t *mcpTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("mcpclient: decoding tool arguments: %w", err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := t.session.CallTool(ctx, &mcppkg.CallToolParams{Name: t.tool.Name, Arguments: args})
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}

	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if text, ok := c.(*mcppkg.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	out := map[string]any{
		"ok":         !res.IsError,
		"text":       strings.Join(texts, "\n"),
		"structured": res.StructuredContent,
	}
	if b, err := json.Marshal(res.Content); err == nil {
		var anyc any
		if json.Unmarshal(b, &anyc) == nil {
			out["content"] = anyc
		}
	}
	return out, nil
}

func sanitizeName(server, tool string) string {
	s := fmt.Sprintf("%s_%s", server, tool)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}

// sanitizeSchema normalizes a JSON schema map in-place to meet the stricter
// tool-schema requirements most vendor SDKs enforce (object schemas always
// carry a properties map, array schemas always carry an items schema).
func sanitizeSchema(s map[string]any) {
	if s["type"] == "object" {
		if _, ok := s["properties"].(map[string]any); !ok {
			s["properties"] = map[string]any{}
		}
	}
	if s["type"] == "array" {
		if _, ok := s["items"].(map[string]any); !ok {
			s["items"] = map[string]any{"type": "string"}
		}
	}
	if props, ok := s["properties"].(map[string]any); ok {
		for _, v := range props {
			if m, ok := v.(map[string]any); ok {
				sanitizeSchema(m)
			}
		}
	}
	if it, ok := s["items"].(map[string]any); ok {
		sanitizeSchema(it)
	}
}

func buildMCPHTTPClient(s config.MCPServerConfig) *http.Client {
	tr := &http.Transport{}
	tr.TLSClientConfig = &tls.Config{}
	cli := &http.Client{
		Transport: &headerRoundTripper{base: tr, headers: s.Headers, bearer: s.BearerToken},
	}
	if s.TimeoutSeconds > 0 {
		cli.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	}
	return cli
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
	bearer  string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
	for k, v := range h.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if h.bearer != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+h.bearer)
	}
	return h.base.RoundTrip(r)
}
