package chat

import "strings"

// EstimateCredits maps answer text to its credit cost: one credit per
// started 100-word block, minimum 1 for any non-empty answer. The
// orchestrator computes it once and reuses the value for both the
// deduction and the interaction log.
func EstimateCredits(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return (words + 99) / 100
}
