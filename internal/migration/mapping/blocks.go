package mapping

import "strings"

// TransformBlock maps one legacy block to its new-schema shape (spec §4.3
// "Block transforms"). A citation block contributes no NewBlock — its
// references are returned separately so the caller can merge them into the
// message's first main_text block. An unknown block is dropped entirely
// (ok=false, no references).
func TransformBlock(b LegacyBlock) (block NewBlock, refs []ContentReference, ok bool) {
	switch b.Type {
	case BlockUnknown:
		return NewBlock{}, nil, false

	case BlockCitation:
		refs = citationReferences(b)
		return NewBlock{}, refs, false

	case BlockMainText:
		return NewBlock{Type: BlockMainText, Content: b.Content}, nil, true

	case BlockThinking:
		return NewBlock{Type: BlockThinking, ThinkingMs: b.ThinkingMillsec}, nil, true

	case BlockImage:
		nb := NewBlock{Type: BlockImage}
		if b.HasFile {
			nb.FileID = b.FileID
		} else {
			nb.URL = b.URL
		}
		return nb, nil, true

	case BlockFile:
		return NewBlock{Type: BlockFile, FileID: b.FileID}, nil, true

	case BlockTool:
		return NewBlock{Type: BlockTool, ToolCallID: b.ToolCallID, ToolName: b.ToolName}, nil, true

	default:
		// "Others → shape-preserving copy minus id, messageId, status, model"
		extra := make(map[string]any, len(b.Extra))
		for k, v := range b.Extra {
			extra[k] = v
		}
		return NewBlock{Type: b.Type, Content: b.Content, Extra: extra}, nil, true
	}
}

// citationReferences emits zero-to-three ContentReference entries, one each
// for web/knowledge/memory, per spec §4.3.
func citationReferences(b LegacyBlock) []ContentReference {
	var out []ContentReference
	out = append(out, b.WebReferences...)
	out = append(out, b.KnowledgeReferences...)
	out = append(out, b.MemoryReferences...)
	return out
}

// NormalizeStatus maps the legacy message status vocabulary onto the new
// three-value status (spec §4.3 "Status normalisation").
func NormalizeStatus(legacyStatus string) string {
	switch legacyStatus {
	case "sending", "pending", "searching", "processing", "success":
		return "success"
	case "error":
		return "error"
	case "paused":
		return "paused"
	default:
		return "success"
	}
}

// BuildSearchableText concatenates text-bearing block contents in order,
// newline-joined (spec §8 property 2).
func BuildSearchableText(blocks []NewBlock) string {
	var parts []string
	for _, b := range blocks {
		if textBearingBlockTypes[b.Type] && b.Content != "" {
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n")
}
