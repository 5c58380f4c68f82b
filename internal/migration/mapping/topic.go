package mapping

// LegacyTopic is the source-of-record topic (spec §3.1 "Legacy Topic").
type LegacyTopic struct {
	ID                   string
	AssistantID          string
	Name                 string
	Messages             []LegacyMessage
	Pinned               bool
	Prompt               string
	CreatedAt            any
	UpdatedAt            any
	IsNameManuallyEdited bool
}

// LegacyTopicMeta is the Redux-side topic metadata nested under a legacy
// assistant (spec §3.1 "Legacy Topic-Meta"), authoritative for display
// fields and for the owning assistant id.
type LegacyTopicMeta struct {
	ID                   string
	Name                 string
	Pinned               bool
	Prompt               string
	IsNameManuallyEdited bool
	HasMeta              bool // whether a topic-meta record exists at all
}

const unnamedTopicFallback = "Unnamed Topic"

// MergedTopicMeta is the reconciled display/ownership metadata for one
// topic (spec §4.3 "Merges metadata split across two authoritative
// sources").
type MergedTopicMeta struct {
	Name                 string
	Pinned               bool
	Prompt               string
	IsNameManuallyEdited bool
	AssistantID          string
}

// MergeTopicMeta reconciles a legacy topic with its Redux-side topic-meta
// record (if any) and an assistant-ownership lookup. The topic-meta record
// is authoritative for name/pinned/prompt/isNameManuallyEdited; legacy
// fields are the fallback; "Unnamed Topic" is the final fallback for name.
func MergeTopicMeta(topic LegacyTopic, meta LegacyTopicMeta, assistantIDFromMap string) MergedTopicMeta {
	out := MergedTopicMeta{}

	if meta.HasMeta && meta.Name != "" {
		out.Name = meta.Name
	} else if topic.Name != "" {
		out.Name = topic.Name
	} else {
		out.Name = unnamedTopicFallback
	}

	if meta.HasMeta {
		out.Pinned = meta.Pinned
		out.Prompt = meta.Prompt
		out.IsNameManuallyEdited = meta.IsNameManuallyEdited
	} else {
		out.Pinned = topic.Pinned
		out.Prompt = topic.Prompt
		out.IsNameManuallyEdited = topic.IsNameManuallyEdited
	}
	if out.Prompt == "" {
		out.Prompt = topic.Prompt
	}

	out.AssistantID = assistantIDFromMap
	if out.AssistantID == "" {
		out.AssistantID = topic.AssistantID
	}

	return out
}

// DetectSkipped returns the set of message ids whose resolved block list is
// empty (spec §4.3 "Parent resolution through skipped messages": "any
// message whose resolved block list is empty is skipped"). resolvedBlocks
// maps messageId to however many NewBlocks TransformBlock produced for it
// (after dropping unknown/citation-only blocks).
func DetectSkipped(resolvedBlockCounts map[string]int) map[string]bool {
	skipped := make(map[string]bool, len(resolvedBlockCounts))
	for id, n := range resolvedBlockCounts {
		if n == 0 {
			skipped[id] = true
		}
	}
	return skipped
}
