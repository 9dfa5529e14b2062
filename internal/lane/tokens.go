package lane

import "unicode/utf8"

// =============================================================================
// Token Estimation
// =============================================================================
// Cheap size heuristic used as an input signal for the retention floor.
// Calibrated at ~4 characters per token, which is conservative for English
// prose mixed with code.

// TokenCounter estimates token counts from character counts.
type TokenCounter struct {
	charsPerToken float64
}

// NewTokenCounter creates a counter with the default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{charsPerToken: 4.0}
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	// Rune count for proper unicode handling.
	return int(float64(utf8.RuneCountInString(s)) / tc.charsPerToken)
}

// CountMessage estimates tokens for a single conversation message.
// A small per-message overhead accounts for role and framing.
func (tc *TokenCounter) CountMessage(m Message) int {
	return 4 + tc.CountString(m.Text)
}

// CountMessages estimates tokens for a slice of messages.
func (tc *TokenCounter) CountMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += tc.CountMessage(m)
	}
	return total
}
