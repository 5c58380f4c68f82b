package mapping

// MergeStats combines a legacy message's usage and metrics into one Stats
// object (spec §4.3 "Stats merge"). Returns nil if both inputs are nil (or
// carry no non-zero fields) — "return null if all fields absent".
func MergeStats(usage *LegacyUsage, metrics *LegacyMetrics) *Stats {
	if usage == nil && metrics == nil {
		return nil
	}

	s := Stats{}
	hasAny := false

	if usage != nil {
		if usage.PromptTokens != 0 {
			s.PromptTokens = usage.PromptTokens
			hasAny = true
		}
		if usage.CompletionTokens != 0 {
			s.CompletionTokens = usage.CompletionTokens
			hasAny = true
		}
		if usage.TotalTokens != 0 {
			s.TotalTokens = usage.TotalTokens
			hasAny = true
		}
		if usage.ThoughtsTokens != 0 {
			s.ThoughtsTokens = usage.ThoughtsTokens
			hasAny = true
		}
		if usage.Cost != 0 {
			s.Cost = usage.Cost
			hasAny = true
		}
	}

	if metrics != nil {
		if metrics.TimeFirstTokenMillsec != 0 {
			s.TimeFirstTokenMillsec = metrics.TimeFirstTokenMillsec
			hasAny = true
		}
		if metrics.TimeCompletionMillsec != 0 {
			s.TimeCompletionMillsec = metrics.TimeCompletionMillsec
			hasAny = true
		}
		if metrics.TimeThinkingMillsec != 0 {
			s.TimeThinkingMillsec = metrics.TimeThinkingMillsec
			hasAny = true
		}
	}

	if !hasAny {
		return nil
	}
	return &s
}
