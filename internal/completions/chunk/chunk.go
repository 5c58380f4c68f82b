// Package chunk defines the generic-chunk wire schema: the sole currency
// exchanged between the middleware stack and the block manager. The set of
// tags is closed by design (spec §3.2/§6.5) — adding a variant is a schema
// change visible to every callback consumer, so Kind is not meant to grow
// without a corresponding Chunk field and a GLOSSARY update.
package chunk

// Kind discriminates a Chunk's payload.
type Kind string

const (
	KindResponseCreated     Kind = "llm_response_created"
	KindTextDelta           Kind = "text_delta"
	KindThinkingDelta       Kind = "thinking_delta"
	KindThinkingComplete    Kind = "thinking_complete"
	KindWebSearchInProgress Kind = "llm_web_search_in_progress"
	KindWebSearchComplete   Kind = "llm_web_search_complete"
	KindMcpToolCreated      Kind = "mcp_tool_created"
	KindMcpToolInProgress   Kind = "mcp_tool_in_progress"
	KindImageCreated        Kind = "image_created"
	KindImageComplete       Kind = "image_complete"
	KindResponseComplete    Kind = "llm_response_complete"
	KindBlockComplete       Kind = "block_complete"
	KindError               Kind = "error"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments, vendor-agnostic
}

// Usage mirrors the vendor-agnostic token accounting merged by stats merge.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThoughtsTokens   int
	Cost             float64
}

// Metrics carries the timing fields stats merge folds in alongside Usage.
type Metrics struct {
	TimeFirstTokenMillsec  int64
	TimeCompletionMillsec  int64
	TimeThinkingMillsec    int64
}

// Citation is one web/knowledge/memory reference surfaced by a citation
// block or a web-search completion.
type Citation struct {
	Kind  string // "web" | "knowledge" | "memory"
	URL   string
	Title string
	Snippet string
}

// Chunk is a single generic-chunk event. Only the fields relevant to Kind
// are populated; this mirrors the source system's discriminated-union
// payload without resorting to `any` for every field.
type Chunk struct {
	Kind Kind

	// text_delta / thinking_delta / thinking_complete
	Text            string
	ThinkingMillsec int64

	// mcp_tool_created / mcp_tool_in_progress
	ToolCalls []ToolCall
	ToolCallID string
	ToolStatus string

	// image_created / image_complete
	ImageID   string
	ImageData []byte
	ImageMIME string
	ImageURL  string

	// llm_web_search_in_progress / llm_web_search_complete
	Citations []Citation

	// llm_response_complete / block_complete
	Usage   *Usage
	Metrics *Metrics

	// error
	Err error

	// llm_response_created
	ResponseID string
}

// Text constructs a text_delta chunk.
func Text(s string) Chunk { return Chunk{Kind: KindTextDelta, Text: s} }

// ThinkingDelta constructs a thinking_delta chunk.
func ThinkingDelta(s string, ms int64) Chunk {
	return Chunk{Kind: KindThinkingDelta, Text: s, ThinkingMillsec: ms}
}

// ThinkingComplete constructs a thinking_complete chunk.
func ThinkingComplete(accumulated string, ms int64) Chunk {
	return Chunk{Kind: KindThinkingComplete, Text: accumulated, ThinkingMillsec: ms}
}

// Error constructs an error chunk.
func Error(err error) Chunk { return Chunk{Kind: KindError, Err: err} }

// ResponseCreated constructs an llm_response_created chunk.
func ResponseCreated(id string) Chunk { return Chunk{Kind: KindResponseCreated, ResponseID: id} }

// ResponseComplete constructs an llm_response_complete chunk.
func ResponseComplete(usage *Usage, metrics *Metrics) Chunk {
	return Chunk{Kind: KindResponseComplete, Usage: usage, Metrics: metrics}
}

// BlockComplete constructs the synthetic, top-level-only block_complete chunk.
func BlockComplete(usage *Usage, metrics *Metrics) Chunk {
	return Chunk{Kind: KindBlockComplete, Usage: usage, Metrics: metrics}
}

// McpToolCreated constructs a mcp_tool_created chunk carrying one batch of
// tool calls.
func McpToolCreated(calls []ToolCall) Chunk {
	return Chunk{Kind: KindMcpToolCreated, ToolCalls: calls}
}
