// Package lane defines the shared domain types for the context lane
// routing engine: lanes, memberships, switch events, manual overrides,
// conversation messages, and the routing configuration contract.
package lane

import (
	"strings"
	"time"
)

// =============================================================================
// Lane Lifecycle
// =============================================================================

// Status represents the lifecycle state of a lane.
type Status string

const (
	// StatusActive marks a lane that participates in routing.
	StatusActive Status = "active"

	// StatusArchived marks a lane excluded from routing. The state exists
	// in the schema but no engine code path currently transitions into it;
	// retention policy is intentionally unspecified.
	StatusArchived Status = "archived"
)

// ContextLane is a persisted, named sub-thread of a conversation with its
// own rolling summary. Lanes are created by the orchestrator when no
// existing lane qualifies for a turn and are never deleted.
type ContextLane struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// OwnerSessionID identifies a delegate session that owns this lane's
	// deeper work. Empty for lanes without a delegate.
	OwnerSessionID string `json:"owner_session_id,omitempty"`

	Title   string `json:"title"`
	Summary string `json:"summary"`
	Status  Status `json:"status"`

	// MsgCount is a monotonic counter of routed turns that selected this
	// lane as primary.
	MsgCount int `json:"msg_count"`

	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoutingText returns the text used to score a message against this lane.
func (l *ContextLane) RoutingText() string {
	if l.Summary == "" {
		return l.Title
	}
	return l.Title + "\n" + l.Summary
}

// Membership links a message to a lane with a bounded relevance score.
// (SessionID, MessageID, LaneID) uniquely identifies a record; re-saving
// the same triple overwrites relevance, primary flag, and timestamp.
type Membership struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	LaneID    string    `json:"lane_id"`
	Relevance float64   `json:"relevance"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// Switch Auditing
// =============================================================================

// SwitchReason explains why the primary lane changed.
type SwitchReason string

const (
	ReasonCreatedNewContext SwitchReason = "created-new-context"
	ReasonManualOverride    SwitchReason = "manual-override"
	ReasonScoreSwitch       SwitchReason = "score-switch"
)

// SwitchEvent is an append-only audit record written whenever the computed
// primary lane differs from the previous primary.
type SwitchEvent struct {
	ID         int64        `json:"id"`
	SessionID  string       `json:"session_id"`
	MessageID  string       `json:"message_id"`
	FromLaneID string       `json:"from_lane_id,omitempty"` // empty when no prior primary
	ToLaneID   string       `json:"to_lane_id"`
	Confidence float64      `json:"confidence"`
	Reason     SwitchReason `json:"reason"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ManualOverride is a time-boxed pin of a session's primary lane. One row
// per session, last write wins, self-expiring on read.
type ManualOverride struct {
	SessionID string    `json:"session_id"`
	LaneID    string    `json:"lane_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the override has lapsed at the given instant.
func (o *ManualOverride) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// =============================================================================
// Conversation Messages
// =============================================================================

// Message is a conversation turn supplied by the host runtime. ID may be
// empty for anonymous messages (for example synthetic tool output); such
// messages are deduplicated by object identity rather than by id.
type Message struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// =============================================================================
// Scoring and Selection
// =============================================================================

// Score is one lane's relevance to the current turn.
type Score struct {
	LaneID string
	Title  string
	Value  float64

	// Semantic is true when the value includes a semantic rerank component.
	Semantic bool
}

// Selection is the outcome of lane selection for one turn.
type Selection struct {
	PrimaryID    string
	SecondaryIDs []string
	Scores       []Score
	CreatedNew   bool

	// OverrideApplied is true when a manual override forced the primary.
	OverrideApplied bool
}

// OwnerRoute is a notification tuple for a lane backed by a delegate
// session. The caller may use it to inform the owning session that its
// lane was selected.
type OwnerRoute struct {
	OwnerSessionID string `json:"owner_session_id"`
	LaneID         string `json:"lane_id"`
	Title          string `json:"title"`
	IsPrimary      bool   `json:"is_primary"`
}

// RouteResult is what the orchestrator hands back to the host for one turn.
type RouteResult struct {
	Selection   Selection    `json:"-"`
	PrimaryID   string       `json:"primary_id,omitempty"`
	Secondaries []string     `json:"secondary_ids,omitempty"`
	CreatedNew  bool         `json:"created_new_context"`
	LaneHistory []Message    `json:"lane_history"`
	ActiveLanes int          `json:"active_lanes"`
	OwnerRoutes []OwnerRoute `json:"owner_routes,omitempty"`
}

// =============================================================================
// Small text helpers shared by router and orchestrator
// =============================================================================

// FirstSentence extracts the first sentence of text, capped at maxLen runes.
// Falls back to the whole (clipped) text when no terminator is found.
func FirstSentence(text string, maxLen int) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	if idx := strings.IndexAny(t, ".!?\n"); idx > 0 {
		t = strings.TrimSpace(t[:idx+1])
		t = strings.TrimRight(t, "\n")
	}
	runes := []rune(t)
	if len(runes) > maxLen {
		t = string(runes[:maxLen])
	}
	return strings.TrimSpace(t)
}

// TitleFromText derives a lane title from the first words of a message,
// capitalizing each word.
func TitleFromText(text string, maxWords int) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "New Topic"
	}
	if len(fields) > maxWords {
		fields = fields[:maxWords]
	}
	for i, w := range fields {
		r := []rune(w)
		fields[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(fields, " ")
}
