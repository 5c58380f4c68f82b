package mapping

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BuildMessageTree runs the two-pass tree-build algorithm (spec §4.3).
// Input must be in original conversation order. The ordered map is used for
// askId→groupId so callers that want to report groups in first-seen order
// (prepare's sampling step) get deterministic iteration, not Go's randomized
// map order.
func BuildMessageTree(messages []LegacyMessage) (map[string]TreeInfo, *orderedmap.OrderedMap[string, int]) {
	groupOf := orderedmap.New[string, int]()
	askCounts := make(map[string]int)

	for _, m := range messages {
		if m.AskID != "" {
			askCounts[m.AskID]++
		}
	}

	nextGroupID := 1
	for _, m := range messages {
		if m.AskID == "" {
			continue
		}
		if askCounts[m.AskID] < 2 {
			continue
		}
		if _, ok := groupOf.Get(m.AskID); ok {
			continue
		}
		groupOf.Set(m.AskID, nextGroupID)
		nextGroupID++
	}

	tree := make(map[string]TreeInfo, len(messages))
	var previousMessageID string
	var lastNonGroupMessageID string

	for _, m := range messages {
		var info TreeInfo

		if gid, ok := groupOf.Get(m.AskID); ok && m.AskID != "" {
			info.ParentID = m.AskID
			info.SiblingsGroupID = gid
			if m.FoldSelected {
				lastNonGroupMessageID = m.ID
			}
		} else if m.Role == "user" && lastNonGroupMessageID != "" {
			info.ParentID = lastNonGroupMessageID
			lastNonGroupMessageID = ""
		} else {
			info.ParentID = previousMessageID
		}

		tree[m.ID] = info

		previousMessageID = m.ID
		if info.SiblingsGroupID == 0 {
			lastNonGroupMessageID = m.ID
		}
	}

	return tree, groupOf
}

// FindActiveNodeID selects the topic's active node among migrated messages
// (spec §4.3 "activeNodeId selection"). messages must be in original
// conversation order; migrated is the set of message ids that survived
// skipping. tree is the (possibly parent-resolved) tree produced by
// BuildMessageTree + ResolveSkippedParents.
func FindActiveNodeID(messages []LegacyMessage, migrated map[string]bool, tree map[string]TreeInfo) string {
	if len(messages) == 0 {
		return ""
	}

	last := messages[len(messages)-1]

	// (i) the original active node if migrated — the last message, or its
	// foldSelected sibling when the last message is itself in a group.
	if candidate, ok := resolveOriginalActive(last, messages, migrated, tree); ok {
		return candidate
	}

	// (ii) any migrated foldSelected message.
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.FoldSelected && migrated[m.ID] {
			return m.ID
		}
	}

	// (iii) last migrated message.
	for i := len(messages) - 1; i >= 0; i-- {
		if migrated[messages[i].ID] {
			return messages[i].ID
		}
	}

	return ""
}

// resolveOriginalActive implements "the last message, or its foldSelected
// sibling when the last message is in a group" (spec §4.3). That fallback
// applies whenever last belongs to a non-zero sibling group — whether last
// itself was migrated or skipped — not only in the skipped case: a
// conversation ending inside a sibling group always resolves to the group's
// foldSelected branch, the same branch BuildMessageTree treats as the
// thread's real continuation (see its lastNonGroupMessageID handling above).
func resolveOriginalActive(last LegacyMessage, messages []LegacyMessage, migrated map[string]bool, tree map[string]TreeInfo) (string, bool) {
	if last.AskID != "" && tree[last.ID].SiblingsGroupID != 0 {
		if sib, ok := foldSelectedSibling(messages, migrated, last.AskID); ok {
			return sib, true
		}
	}
	if migrated[last.ID] {
		return last.ID, true
	}
	return "", false
}

func foldSelectedSibling(messages []LegacyMessage, migrated map[string]bool, askID string) (string, bool) {
	for _, m := range messages {
		if m.AskID == askID && m.FoldSelected && migrated[m.ID] {
			return m.ID, true
		}
	}
	return "", false
}

// ResolveSkippedParents rewrites parentId references so that children of a
// skipped message point at the nearest migrated ancestor (spec §4.3 "Parent
// resolution through skipped messages"). skipped is the set of message ids
// with zero resolved blocks. Returns a new map; the input is not mutated.
func ResolveSkippedParents(tree map[string]TreeInfo, skipped map[string]bool) map[string]TreeInfo {
	resolved := make(map[string]TreeInfo, len(tree))

	var resolve func(id string, visited map[string]bool) string
	resolve = func(id string, visited map[string]bool) string {
		if id == "" {
			return ""
		}
		info, ok := tree[id]
		if !ok {
			return id
		}
		if !skipped[id] {
			return id
		}
		if visited[id] {
			// cycle guard: malformed input, stop walking and treat as root
			return ""
		}
		visited[id] = true
		return resolve(info.ParentID, visited)
	}

	for id, info := range tree {
		newParent := info.ParentID
		if info.ParentID != "" && skipped[info.ParentID] {
			newParent = resolve(info.ParentID, map[string]bool{id: true})
		}
		resolved[id] = TreeInfo{ParentID: newParent, SiblingsGroupID: info.SiblingsGroupID}
	}
	return resolved
}
