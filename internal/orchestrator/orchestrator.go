// Package orchestrator coordinates lane routing per incoming turn: it loads
// candidates, scores and selects lanes, reconciles manual overrides, creates
// lanes when nothing qualifies, persists memberships and switch events, and
// assembles the lane-scoped history returned to the host.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
	"switchboard/internal/router"
	"switchboard/internal/semantic"
	"switchboard/internal/store"
)

// newLaneRelevance is the membership relevance for a freshly created lane.
const newLaneRelevance = 1.0

// defaultSecondaryRelevance is used when a secondary's score row is missing.
const defaultSecondaryRelevance = 0.5

// seedSentenceMaxLen caps the first-sentence seed of a new lane's summary.
const seedSentenceMaxLen = 140

// titleMaxWords bounds the derived title of a new lane.
const titleMaxWords = 6

// defaultSemanticTimeout bounds the embedding provider call.
const defaultSemanticTimeout = 10 * time.Second

// Orchestrator routes turns into lanes over a LaneStore.
//
// Route mutates shared per-session state across several store calls and is
// not reentrant per session: callers must serialize Route invocations for
// the same session id (see SessionRegistry). Calls for different sessions
// are fully independent.
type Orchestrator struct {
	store           store.LaneStore
	reranker        *semantic.Reranker
	counter         *lane.TokenCounter
	semanticTimeout time.Duration
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSemanticTimeout bounds the embedding call during rerank.
func WithSemanticTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.semanticTimeout = d
		}
	}
}

// New creates an orchestrator. reranker may be nil to disable semantic
// scoring regardless of configuration.
func New(st store.LaneStore, reranker *semantic.Reranker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           st,
		reranker:        reranker,
		counter:         lane.NewTokenCounter(),
		semanticTimeout: defaultSemanticTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RouteInput is one conversation turn to route.
type RouteInput struct {
	SessionID string
	MessageID string

	// Text is the latest user message content.
	Text string

	// History is the full conversation history, oldest first. It should
	// include the latest turn.
	History []lane.Message

	Config lane.RoutingConfig

	// Now drives every time-dependent decision in the pass.
	Now time.Time
}

// Route scores the turn against the session's active lanes, selects the
// primary and secondary lanes, persists membership and switch state, and
// returns the lane-scoped history.
func (o *Orchestrator) Route(ctx context.Context, in RouteInput) (*lane.RouteResult, error) {
	timer := logging.StartTimer(logging.CategoryRouting, "Route")
	defer timer.Stop()

	cfg := in.Config
	cfg.Normalize()

	// 1. Load candidates and the previous primary.
	lanes, err := o.store.ListActiveLanes(in.SessionID, cfg.MaxActiveLanes)
	if err != nil {
		return nil, fmt.Errorf("failed to load active lanes: %w", err)
	}
	prevPrimary, err := o.store.LatestPrimaryLaneID(in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve previous primary: %w", err)
	}

	laneByID := make(map[string]*lane.ContextLane, len(lanes))
	for _, l := range lanes {
		laneByID[l.ID] = l
	}

	// 2. Lexical scoring, with conditional semantic rerank.
	scores := router.ScoreLanes(in.Text, lanes, in.Now)
	if o.reranker.Enabled() && semantic.ShouldRerank(scores, cfg.Semantic) {
		sctx, cancel := context.WithTimeout(ctx, o.semanticTimeout)
		scores = o.reranker.Rerank(sctx, in.Text, scores, laneByID, cfg.Semantic)
		cancel()
	}

	// 3. Threshold and hysteresis selection.
	sel := router.SelectLanes(scores, prevPrimary, cfg)

	// 4. A valid manual override whose lane is an active candidate wins.
	override, err := o.store.GetOverride(in.SessionID, in.Now)
	if err != nil {
		return nil, fmt.Errorf("failed to read override: %w", err)
	}
	if override != nil {
		if _, ok := laneByID[override.LaneID]; ok {
			sel.PrimaryID = override.LaneID
			sel.OverrideApplied = true
			sel.SecondaryIDs = removeID(sel.SecondaryIDs, override.LaneID)
			logging.Session("Manual override active: session=%s lane=%s", in.SessionID, override.LaneID)
		}
	}

	// 5. No qualifying lane: open a new one.
	if sel.PrimaryID == "" {
		created, err := o.createLane(in, cfg)
		if err != nil {
			return nil, err
		}
		lanes = append(lanes, created)
		laneByID[created.ID] = created
		sel.PrimaryID = created.ID
		sel.CreatedNew = true
		logging.Routing("Created lane %s (%q) for session=%s", created.ID, created.Title, in.SessionID)
	}

	primaryScore := scoreFor(scores, sel.PrimaryID, newLaneRelevance)

	// 6. Roll the primary lane's summary digest.
	primaryLane := laneByID[sel.PrimaryID]
	sentence := lane.FirstSentence(in.Text, seedSentenceMaxLen)
	newSummary := rollSummary(primaryLane.Summary, sentence, cfg.SummaryMaxLen)
	if err := o.store.UpdateLane(in.SessionID, sel.PrimaryID, newSummary, in.Now); err != nil {
		return nil, fmt.Errorf("failed to update primary lane: %w", err)
	}
	primaryLane.Summary = newSummary
	primaryLane.LastActiveAt = in.Now

	// 7. Persist memberships for this message. Messages without an id
	// cannot be keyed and are skipped defensively.
	if in.MessageID != "" {
		memberships := []lane.Membership{{
			SessionID: in.SessionID,
			MessageID: in.MessageID,
			LaneID:    sel.PrimaryID,
			Relevance: primaryScore,
			IsPrimary: true,
			CreatedAt: in.Now,
		}}
		for _, secondaryID := range sel.SecondaryIDs {
			memberships = append(memberships, lane.Membership{
				SessionID: in.SessionID,
				MessageID: in.MessageID,
				LaneID:    secondaryID,
				Relevance: scoreFor(scores, secondaryID, defaultSecondaryRelevance),
				IsPrimary: false,
				CreatedAt: in.Now,
			})
		}
		if err := o.store.UpsertMemberships(memberships); err != nil {
			return nil, fmt.Errorf("failed to persist memberships: %w", err)
		}
	}

	// 8. Audit the switch when the primary changed. Reason precedence is
	// fixed: created-new-context > manual-override > score-switch.
	if sel.PrimaryID != prevPrimary {
		reason := lane.ReasonScoreSwitch
		switch {
		case sel.CreatedNew:
			reason = lane.ReasonCreatedNewContext
		case sel.OverrideApplied:
			reason = lane.ReasonManualOverride
		}
		ev := &lane.SwitchEvent{
			SessionID:  in.SessionID,
			MessageID:  in.MessageID,
			FromLaneID: prevPrimary,
			ToLaneID:   sel.PrimaryID,
			Confidence: primaryScore,
			Reason:     reason,
			CreatedAt:  in.Now,
		}
		if err := o.store.AppendSwitchEvent(ev); err != nil {
			return nil, fmt.Errorf("failed to append switch event: %w", err)
		}
	}

	// 9-10. Lane-scoped history with the token-retention floor.
	selected := append([]string{sel.PrimaryID}, sel.SecondaryIDs...)
	history, err := o.assembleHistory(in.SessionID, in.History, selected, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble lane history: %w", err)
	}

	activeCount, err := o.store.CountActiveLanes(in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active lanes: %w", err)
	}

	result := &lane.RouteResult{
		Selection:   sel,
		PrimaryID:   sel.PrimaryID,
		Secondaries: sel.SecondaryIDs,
		CreatedNew:  sel.CreatedNew,
		LaneHistory: history,
		ActiveLanes: activeCount,
		OwnerRoutes: ownerRoutes(laneByID, sel),
	}

	logging.Routing("Routed session=%s message=%s primary=%s secondaries=%d history=%d/%d created=%v",
		in.SessionID, in.MessageID, sel.PrimaryID, len(sel.SecondaryIDs),
		len(history), len(in.History), sel.CreatedNew)
	return result, nil
}

// createLane opens a new lane seeded from the message text.
func (o *Orchestrator) createLane(in RouteInput, cfg lane.RoutingConfig) (*lane.ContextLane, error) {
	seed := ""
	if s := lane.FirstSentence(in.Text, seedSentenceMaxLen); s != "" {
		seed = "- " + s
	}
	l := &lane.ContextLane{
		ID:           "lane-" + uuid.NewString(),
		SessionID:    in.SessionID,
		Title:        lane.TitleFromText(in.Text, titleMaxWords),
		Summary:      seed,
		Status:       lane.StatusActive,
		LastActiveAt: in.Now,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	if err := o.store.CreateLane(l); err != nil {
		return nil, fmt.Errorf("failed to create lane: %w", err)
	}
	return l, nil
}

// SwitchContext pins the session's primary lane for ttl. Returns false when
// the lane is unknown or not active; the pin holds for every Route call
// until now exceeds the derived expiry.
func (o *Orchestrator) SwitchContext(sessionID, laneID string, ttl time.Duration, now time.Time) (bool, error) {
	l, err := o.store.GetLane(sessionID, laneID)
	if err != nil {
		return false, fmt.Errorf("failed to look up lane: %w", err)
	}
	if l == nil || l.Status != lane.StatusActive {
		return false, nil
	}
	err = o.store.SetOverride(lane.ManualOverride{
		SessionID: sessionID,
		LaneID:    laneID,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return false, fmt.Errorf("failed to set override: %w", err)
	}
	return true, nil
}

// ClearManualOverride removes the session's pin, if any.
func (o *Orchestrator) ClearManualOverride(sessionID string) error {
	return o.store.ClearOverride(sessionID)
}

// ListContexts returns the session's active lanes, most recently active
// first.
func (o *Orchestrator) ListContexts(sessionID string, limit int) ([]*lane.ContextLane, error) {
	return o.store.ListActiveLanes(sessionID, limit)
}

// ListSwitchEvents returns the session's recent switch events.
func (o *Orchestrator) ListSwitchEvents(sessionID string, limit int) ([]lane.SwitchEvent, error) {
	return o.store.ListSwitchEvents(sessionID, limit)
}

// Stats exposes store row counts.
func (o *Orchestrator) Stats() (map[string]int64, error) {
	return o.store.Stats()
}

// =============================================================================
// Helpers
// =============================================================================

func scoreFor(scores []lane.Score, laneID string, fallback float64) float64 {
	for _, s := range scores {
		if s.LaneID == laneID {
			return s.Value
		}
	}
	return fallback
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func ownerRoutes(laneByID map[string]*lane.ContextLane, sel lane.Selection) []lane.OwnerRoute {
	var routes []lane.OwnerRoute
	appendRoute := func(laneID string, isPrimary bool) {
		l, ok := laneByID[laneID]
		if !ok || l.OwnerSessionID == "" {
			return
		}
		routes = append(routes, lane.OwnerRoute{
			OwnerSessionID: l.OwnerSessionID,
			LaneID:         l.ID,
			Title:          l.Title,
			IsPrimary:      isPrimary,
		})
	}
	appendRoute(sel.PrimaryID, true)
	for _, id := range sel.SecondaryIDs {
		appendRoute(id, false)
	}
	return routes
}
