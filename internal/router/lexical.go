// Package router implements the pure scoring and selection logic of the
// lane routing engine: lexical similarity between a turn and candidate
// lanes, and threshold/hysteresis-based primary and secondary selection.
package router

import (
	"sort"
	"strings"
	"time"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
)

// =============================================================================
// Lexical Scoring
// =============================================================================
// Overlap combines Jaccard similarity with containment so that a short
// message fully covered by a lane's vocabulary still scores high, and a
// small recency bonus nudges recently active lanes without dominating the
// lexical signal.

const (
	jaccardWeight     = 0.55
	containmentWeight = 0.45

	recencyBonusMax    = 0.08
	recencyHorizonMs   = 3_600_000 // one hour
	minTokenLen        = 3
)

// Tokenize lowercases text, strips everything outside [a-z0-9_./-], splits
// on whitespace, and drops tokens shorter than three characters. The result
// is a set; duplicates collapse.
func Tokenize(text string) map[string]struct{} {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '/', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) < minTokenLen {
			continue
		}
		tokens[tok] = struct{}{}
	}
	return tokens
}

// OverlapScore computes the bounded lexical similarity between a message
// token set and a lane token set. Returns 0 when either set is empty.
func OverlapScore(message, laneTokens map[string]struct{}) float64 {
	if len(message) == 0 || len(laneTokens) == 0 {
		return 0
	}

	intersection := 0
	for tok := range message {
		if _, ok := laneTokens[tok]; ok {
			intersection++
		}
	}

	union := len(message) + len(laneTokens) - intersection
	jaccard := float64(intersection) / float64(union)
	containment := float64(intersection) / float64(len(message))

	return jaccardWeight*jaccard + containmentWeight*containment
}

// RecencyBonus rewards lanes active within the last hour, linearly decaying
// to zero at the horizon.
func RecencyBonus(lastActiveAt, now time.Time) float64 {
	ageMs := float64(now.Sub(lastActiveAt).Milliseconds())
	return recencyBonusMax * clamp(1-ageMs/recencyHorizonMs, 0, 1)
}

// ScoreLanes scores the message text against every candidate lane and
// returns one score row per lane, sorted by score descending with a
// deterministic tie-break (title, then id).
func ScoreLanes(text string, lanes []*lane.ContextLane, now time.Time) []lane.Score {
	msgTokens := Tokenize(text)

	scores := make([]lane.Score, 0, len(lanes))
	for _, l := range lanes {
		overlap := OverlapScore(msgTokens, Tokenize(l.RoutingText()))
		score := clamp(overlap+RecencyBonus(l.LastActiveAt, now), 0, 1)
		scores = append(scores, lane.Score{
			LaneID: l.ID,
			Title:  l.Title,
			Value:  score,
		})
	}

	SortScores(scores)

	if len(scores) > 0 {
		logging.RoutingDebug("Scored %d lanes: top=%s (%.3f)",
			len(scores), scores[0].LaneID, scores[0].Value)
	}
	return scores
}

// SortScores orders scores by value descending, then title, then id. The
// full ordering guarantees reproducible selection under tied scores.
func SortScores(scores []lane.Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value > scores[j].Value
		}
		if scores[i].Title != scores[j].Title {
			return scores[i].Title < scores[j].Title
		}
		return scores[i].LaneID < scores[j].LaneID
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
