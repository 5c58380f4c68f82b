// Package mapping implements the Mapping Functions (C3): pure, stateless
// transforms between legacy and new data-model shapes (spec §3, §4.3).
package mapping

// LegacyMessage is one message in a legacy topic's linear conversation log.
type LegacyMessage struct {
	ID           string
	Role         string // "user" | "assistant" | "system"
	TopicID      string
	CreatedAt    any // raw legacy timestamp, parsed by ParseTimestamp
	UpdatedAt    any
	Status       string
	ModelID      string
	Model        string
	AskID        string
	FoldSelected bool
	BlockIDs     []string
	Mentions     []LegacyModel
	Usage        *LegacyUsage
	Metrics      *LegacyMetrics
	TraceID      string
}

// LegacyModel is a model reference as carried in a legacy message's
// mentions list.
type LegacyModel struct {
	ID   string
	Name string
}

// LegacyUsage mirrors the legacy per-message token accounting.
type LegacyUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThoughtsTokens   int
	Cost             float64
}

// LegacyMetrics mirrors the legacy per-message timing fields.
type LegacyMetrics struct {
	TimeFirstTokenMillsec int64
	TimeCompletionMillsec int64
	TimeThinkingMillsec   int64
}

// LegacyBlockType discriminates a legacy block's payload shape.
type LegacyBlockType string

const (
	BlockMainText    LegacyBlockType = "main_text"
	BlockThinking    LegacyBlockType = "thinking"
	BlockTranslation LegacyBlockType = "translation"
	BlockCode        LegacyBlockType = "code"
	BlockImage       LegacyBlockType = "image"
	BlockFile        LegacyBlockType = "file"
	BlockVideo       LegacyBlockType = "video"
	BlockTool        LegacyBlockType = "tool"
	BlockCitation    LegacyBlockType = "citation"
	BlockError       LegacyBlockType = "error"
	BlockCompact     LegacyBlockType = "compact"
	BlockUnknown     LegacyBlockType = "unknown"
)

// textBearingBlockTypes is the set used by searchableText (spec §8 property 2).
var textBearingBlockTypes = map[LegacyBlockType]bool{
	BlockMainText:    true,
	BlockThinking:    true,
	BlockTranslation: true,
	BlockCode:        true,
	BlockCompact:     true,
}

// LegacyBlock is one discriminated legacy block, keyed by id in the
// message_blocks table.
type LegacyBlock struct {
	ID        string
	MessageID string
	Type      LegacyBlockType
	Status    string
	Model     string

	// main_text / translation / code / compact
	Content string

	// thinking
	ThinkingMillsec int64

	// image / file
	FileID  string
	URL     string
	HasFile bool

	// citation
	WebReferences       []ContentReference
	KnowledgeReferences []ContentReference
	MemoryReferences    []ContentReference

	// tool
	ToolCallID string
	ToolName   string

	// raw fallback for "others → shape-preserving copy"
	Extra map[string]any
}

// ContentReference is one web/knowledge/memory citation entry folded into a
// migrated message's main_text block.
type ContentReference struct {
	Kind    string // "web" | "knowledge" | "memory"
	URL     string
	Title   string
	Snippet string
}

// NewBlockType is the new-schema block tag set: the legacy set minus
// citation and unknown (spec §3.1).
type NewBlockType = LegacyBlockType

// NewBlock is one block in a migrated message's data.blocks.
type NewBlock struct {
	Type       NewBlockType
	Content    string
	ThinkingMs int64
	FileID     string
	URL        string
	ToolCallID string
	ToolName   string
	Extra      map[string]any
}

// Stats is the merged usage+metrics object (spec §4.3 "Stats merge").
type Stats struct {
	PromptTokens          int
	CompletionTokens      int
	TotalTokens           int
	ThoughtsTokens        int
	Cost                  float64
	TimeFirstTokenMillsec int64
	TimeCompletionMillsec int64
	TimeThinkingMillsec   int64
}

// NewMessage is a migrated message (spec §3.1 "New Message").
type NewMessage struct {
	ID              string
	ParentID        string // "" means null
	TopicID         string
	Role            string
	Blocks          []NewBlock
	SearchableText  string
	Status          string // success | error | paused
	SiblingsGroupID int
	AssistantID     string
	ModelID         string
	TraceID         string
	Stats           *Stats
	CreatedAt       int64
	UpdatedAt       int64
}

// TreeInfo is the per-message tree-build output (spec §4.3 "Tree build").
type TreeInfo struct {
	ParentID        string
	SiblingsGroupID int
}
