package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeTopicMetaPrefersReduxMeta(t *testing.T) {
	topic := LegacyTopic{Name: "legacy name", Pinned: false, Prompt: "legacy prompt", AssistantID: "legacy-assistant"}
	meta := LegacyTopicMeta{HasMeta: true, Name: "redux name", Pinned: true, Prompt: "redux prompt", IsNameManuallyEdited: true}

	merged := MergeTopicMeta(topic, meta, "mapped-assistant")
	require.Equal(t, "redux name", merged.Name)
	require.True(t, merged.Pinned)
	require.Equal(t, "redux prompt", merged.Prompt)
	require.True(t, merged.IsNameManuallyEdited)
	require.Equal(t, "mapped-assistant", merged.AssistantID)
}

func TestMergeTopicMetaFallsBackToLegacy(t *testing.T) {
	topic := LegacyTopic{Name: "legacy name", AssistantID: "legacy-assistant"}
	merged := MergeTopicMeta(topic, LegacyTopicMeta{}, "")
	require.Equal(t, "legacy name", merged.Name)
	require.Equal(t, "legacy-assistant", merged.AssistantID)
}

func TestMergeTopicMetaFinalFallbackUnnamed(t *testing.T) {
	merged := MergeTopicMeta(LegacyTopic{}, LegacyTopicMeta{}, "")
	require.Equal(t, unnamedTopicFallback, merged.Name)
}

func TestDetectSkipped(t *testing.T) {
	skipped := DetectSkipped(map[string]int{"a": 0, "b": 2, "c": 0})
	require.True(t, skipped["a"])
	require.False(t, skipped["b"])
	require.True(t, skipped["c"])
}
