package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeStatsBothNil(t *testing.T) {
	require.Nil(t, MergeStats(nil, nil))
}

func TestMergeStatsAllZero(t *testing.T) {
	require.Nil(t, MergeStats(&LegacyUsage{}, &LegacyMetrics{}))
}

func TestMergeStatsCombines(t *testing.T) {
	usage := &LegacyUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.002}
	metrics := &LegacyMetrics{TimeFirstTokenMillsec: 100, TimeCompletionMillsec: 900}

	stats := MergeStats(usage, metrics)
	require.NotNil(t, stats)
	require.Equal(t, 10, stats.PromptTokens)
	require.Equal(t, 5, stats.CompletionTokens)
	require.Equal(t, 15, stats.TotalTokens)
	require.Equal(t, 0.002, stats.Cost)
	require.Equal(t, int64(100), stats.TimeFirstTokenMillsec)
	require.Equal(t, int64(900), stats.TimeCompletionMillsec)
}

func TestMergeStatsUsageOnly(t *testing.T) {
	stats := MergeStats(&LegacyUsage{TotalTokens: 42}, nil)
	require.NotNil(t, stats)
	require.Equal(t, 42, stats.TotalTokens)
	require.Equal(t, int64(0), stats.TimeThinkingMillsec)
}
