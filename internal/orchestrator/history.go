package orchestrator

import (
	"strings"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
)

// =============================================================================
// Lane-Scoped History Assembly
// =============================================================================
// A message makes the cut when it sits inside the recency window or has a
// recorded membership in any currently selected lane. A token-retention
// floor then backfills oldest-first so the downstream consumer is never
// starved of context.

// summaryKeepLines is how many trailing digest lines survive each roll.
const summaryKeepLines = 7

// minHistoryMessages computes the message-count floor of the lane view.
func minHistoryMessages(keepRecent int) int {
	if keepRecent+2 > 4 {
		return keepRecent + 2
	}
	return 4
}

// assembleHistory filters full history into the lane-scoped view and
// applies the retention floor.
func (o *Orchestrator) assembleHistory(sessionID string, history []lane.Message, selectedLanes []string, cfg lane.RoutingConfig) ([]lane.Message, error) {
	if len(history) == 0 {
		return nil, nil
	}

	// Deduplicate the source first: by id when present, by position for
	// anonymous messages.
	deduped := dedupeMessages(history)

	selected := make(map[string]struct{}, len(selectedLanes))
	for _, id := range selectedLanes {
		selected[id] = struct{}{}
	}

	var ids []string
	for _, m := range deduped {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	membership, err := o.store.MembershipsForMessages(sessionID, ids)
	if err != nil {
		return nil, err
	}

	recencyStart := len(deduped) - cfg.KeepRecentMessages
	if recencyStart < 0 {
		recencyStart = 0
	}

	include := make([]bool, len(deduped))
	included := 0
	for i, m := range deduped {
		if i >= recencyStart {
			include[i] = true
			included++
			continue
		}
		if m.ID == "" {
			continue
		}
		for _, laneID := range membership[m.ID] {
			if _, ok := selected[laneID]; ok {
				include[i] = true
				included++
				break
			}
		}
	}

	// Retention floor: a minimum message count, plus an optional token
	// ratio against the full history.
	fullTokens := o.counter.CountMessages(deduped)
	laneTokens := 0
	for i, m := range deduped {
		if include[i] {
			laneTokens += o.counter.CountMessage(m)
		}
	}

	minCount := minHistoryMessages(cfg.KeepRecentMessages)
	targetTokens := 0
	if cfg.MinHistoryTokenRatio > 0 {
		targetTokens = int(cfg.MinHistoryTokenRatio * float64(fullTokens))
	}

	if included < minCount || laneTokens < targetTokens {
		before := included
		// Backfill oldest-first until both floors hold.
		for i := 0; i < len(deduped) && (included < minCount || laneTokens < targetTokens); i++ {
			if include[i] {
				continue
			}
			include[i] = true
			included++
			laneTokens += o.counter.CountMessage(deduped[i])
		}
		logging.RoutingDebug("Retention floor backfilled %d messages (tokens %d/%d, count %d/%d)",
			included-before, laneTokens, targetTokens, included, minCount)

		// Backfilling everything and still under the floor means the
		// full deduplicated history is the answer.
		if included < minCount || laneTokens < targetTokens {
			return deduped, nil
		}
	}

	out := make([]lane.Message, 0, included)
	for i, m := range deduped {
		if include[i] {
			out = append(out, m)
		}
	}
	return out, nil
}

// dedupeMessages drops repeated ids, keeping first occurrence. Anonymous
// messages (empty id) are kept as-is: each slice element is its own
// identity.
func dedupeMessages(history []lane.Message) []lane.Message {
	seen := make(map[string]struct{}, len(history))
	out := make([]lane.Message, 0, len(history))
	for _, m := range history {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, m)
	}
	return out
}

// =============================================================================
// Rolling Summary Digest
// =============================================================================

// rollSummary keeps the last seven non-empty digest lines, appends the new
// sentence if absent, renders a bulleted list, and truncates from the front
// when the result exceeds maxLen runes.
func rollSummary(existing, sentence string, maxLen int) string {
	var items []string
	for _, line := range strings.Split(existing, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" {
			items = append(items, line)
		}
	}
	if len(items) > summaryKeepLines {
		items = items[len(items)-summaryKeepLines:]
	}

	if sentence != "" && !containsItem(items, sentence) {
		items = append(items, sentence)
	}

	for i, item := range items {
		items[i] = "- " + item
	}
	summary := strings.Join(items, "\n")

	// Keep the tail under the length cap.
	if runes := []rune(summary); len(runes) > maxLen {
		tail := string(runes[len(runes)-maxLen:])
		// Avoid starting mid-line after the cut.
		if idx := strings.Index(tail, "\n"); idx >= 0 && idx+1 < len(tail) {
			tail = tail[idx+1:]
		}
		summary = tail
	}
	return summary
}

func containsItem(items []string, sentence string) bool {
	for _, item := range items {
		if strings.EqualFold(item, sentence) {
			return true
		}
	}
	return false
}
