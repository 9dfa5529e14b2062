package store

import (
	"sort"
	"sync"
	"time"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
)

// MemoryStore is the correctness-preserving in-memory LaneStore. It mirrors
// the SQLite backend's read/write semantics exactly (including membership
// upsert and lazy override expiry) but loses state across restarts.
type MemoryStore struct {
	mu sync.RWMutex

	// lanes[sessionID][laneID]
	lanes map[string]map[string]*lane.ContextLane

	// memberships[sessionID][messageID][laneID]
	memberships map[string]map[string]map[string]*memMembership
	nextSeq     int64

	// events[sessionID], append order
	events map[string][]lane.SwitchEvent
	nextID int64

	// overrides[sessionID]
	overrides map[string]lane.ManualOverride
}

// memMembership carries an insertion sequence so "latest primary" ties on
// equal timestamps resolve in write order, matching the SQLite backend.
type memMembership struct {
	lane.Membership
	seq int64
}

// NewMemoryStore creates an empty in-memory lane store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lanes:       make(map[string]map[string]*lane.ContextLane),
		memberships: make(map[string]map[string]map[string]*memMembership),
		events:      make(map[string][]lane.SwitchEvent),
		overrides:   make(map[string]lane.ManualOverride),
	}
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

// =============================================================================
// Lanes
// =============================================================================

// CountActiveLanes returns how many active lanes a session has.
func (s *MemoryStore) CountActiveLanes(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, l := range s.lanes[sessionID] {
		if l.Status == lane.StatusActive {
			count++
		}
	}
	return count, nil
}

// ListActiveLanes returns active lanes sorted by last activity descending.
func (s *MemoryStore) ListActiveLanes(sessionID string, limit int) ([]*lane.ContextLane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lanes []*lane.ContextLane
	for _, l := range s.lanes[sessionID] {
		if l.Status != lane.StatusActive {
			continue
		}
		cp := *l
		lanes = append(lanes, &cp)
	}

	sort.Slice(lanes, func(i, j int) bool {
		if !lanes[i].LastActiveAt.Equal(lanes[j].LastActiveAt) {
			return lanes[i].LastActiveAt.After(lanes[j].LastActiveAt)
		}
		return lanes[i].ID < lanes[j].ID
	})

	if limit > 0 && len(lanes) > limit {
		lanes = lanes[:limit]
	}
	return lanes, nil
}

// GetLane returns a copy of a lane or nil when it does not exist.
func (s *MemoryStore) GetLane(sessionID, laneID string) (*lane.ContextLane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lanes[sessionID][laneID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

// CreateLane inserts a new lane record.
func (s *MemoryStore) CreateLane(l *lane.ContextLane) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Creating lane (memory): session=%s id=%s title=%q", l.SessionID, l.ID, l.Title)

	if s.lanes[l.SessionID] == nil {
		s.lanes[l.SessionID] = make(map[string]*lane.ContextLane)
	}
	cp := *l
	s.lanes[l.SessionID][l.ID] = &cp
	return nil
}

// UpdateLane replaces a lane's summary and bumps counters and timestamps.
func (s *MemoryStore) UpdateLane(sessionID, laneID, summary string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[sessionID][laneID]
	if !ok {
		return nil
	}
	l.Summary = summary
	l.MsgCount++
	l.LastActiveAt = now
	l.UpdatedAt = now
	return nil
}

// =============================================================================
// Memberships
// =============================================================================

// LatestPrimaryLaneID resolves the most recent primary lane for a session.
func (s *MemoryStore) LatestPrimaryLaneID(sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *memMembership
	for _, byLane := range s.memberships[sessionID] {
		for _, m := range byLane {
			if !m.IsPrimary {
				continue
			}
			if latest == nil || m.CreatedAt.After(latest.CreatedAt) ||
				(m.CreatedAt.Equal(latest.CreatedAt) && m.seq > latest.seq) {
				latest = m
			}
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.LaneID, nil
}

// UpsertMemberships writes a batch of memberships for one message.
func (s *MemoryStore) UpsertMemberships(memberships []lane.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range memberships {
		if s.memberships[m.SessionID] == nil {
			s.memberships[m.SessionID] = make(map[string]map[string]*memMembership)
		}
		if s.memberships[m.SessionID][m.MessageID] == nil {
			s.memberships[m.SessionID][m.MessageID] = make(map[string]*memMembership)
		}
		s.nextSeq++
		s.memberships[m.SessionID][m.MessageID][m.LaneID] = &memMembership{Membership: m, seq: s.nextSeq}
	}
	return nil
}

// MembershipsForMessages maps message ids to the lane ids they belong to.
func (s *MemoryStore) MembershipsForMessages(sessionID string, messageIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]string)
	byMessage := s.memberships[sessionID]
	for _, messageID := range messageIDs {
		byLane, ok := byMessage[messageID]
		if !ok {
			continue
		}
		laneIDs := make([]string, 0, len(byLane))
		for laneID := range byLane {
			laneIDs = append(laneIDs, laneID)
		}
		sort.Strings(laneIDs)
		result[messageID] = laneIDs
	}
	return result, nil
}

// =============================================================================
// Switch Events
// =============================================================================

// AppendSwitchEvent appends to the switch audit log.
func (s *MemoryStore) AppendSwitchEvent(ev *lane.SwitchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ev.ID = s.nextID
	s.events[ev.SessionID] = append(s.events[ev.SessionID], *ev)

	logging.SessionDebug("Switch event (memory): session=%s %s -> %s reason=%s",
		ev.SessionID, ev.FromLaneID, ev.ToLaneID, ev.Reason)
	return nil
}

// ListSwitchEvents returns recent switch events, newest first.
func (s *MemoryStore) ListSwitchEvents(sessionID string, limit int) ([]lane.SwitchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	all := s.events[sessionID]
	var events []lane.SwitchEvent
	for i := len(all) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, all[i])
	}
	return events, nil
}

// =============================================================================
// Manual Overrides
// =============================================================================

// SetOverride stores the session's manual override, last write wins.
func (s *MemoryStore) SetOverride(o lane.ManualOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[o.SessionID] = o
	return nil
}

// ClearOverride removes the session's manual override.
func (s *MemoryStore) ClearOverride(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.overrides, sessionID)
	return nil
}

// GetOverride returns the session's override with lazy expiry.
func (s *MemoryStore) GetOverride(sessionID string, now time.Time) (*lane.ManualOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[sessionID]
	if !ok {
		return nil, nil
	}
	if o.Expired(now) {
		delete(s.overrides, sessionID)
		return nil, nil
	}
	cp := o
	return &cp, nil
}

// =============================================================================
// Stats
// =============================================================================

// Stats returns row counts per logical table.
func (s *MemoryStore) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int64{
		"contexts":              0,
		"context_memberships":   0,
		"context_switch_events": 0,
		"context_overrides":     int64(len(s.overrides)),
	}
	for _, byID := range s.lanes {
		stats["contexts"] += int64(len(byID))
	}
	for _, byMessage := range s.memberships {
		for _, byLane := range byMessage {
			stats["context_memberships"] += int64(len(byLane))
		}
	}
	for _, evs := range s.events {
		stats["context_switch_events"] += int64(len(evs))
	}
	return stats, nil
}
