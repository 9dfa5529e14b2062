// Package store persists lanes, memberships, switch events, and manual
// overrides. The durable implementation uses SQLite; an in-memory
// implementation honors the identical contract and is substituted
// automatically when the durable backend cannot be opened, so the engine
// never fails to start — it only loses durability across restarts.
package store

import (
	"time"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
)

// LaneStore is the repository contract shared by both backends.
//
// Absence is never an error: missing rows come back as nil, empty, or the
// zero value. All operations are scoped by session id.
type LaneStore interface {
	// CountActiveLanes returns how many active lanes a session has.
	CountActiveLanes(sessionID string) (int, error)

	// ListActiveLanes returns active lanes sorted by last activity
	// descending, limited. limit <= 0 means no limit.
	ListActiveLanes(sessionID string, limit int) ([]*lane.ContextLane, error)

	// GetLane returns a lane or nil when it does not exist.
	GetLane(sessionID, laneID string) (*lane.ContextLane, error)

	// CreateLane inserts a new lane record.
	CreateLane(l *lane.ContextLane) error

	// UpdateLane replaces a lane's summary and bumps its message count,
	// last-active, and updated-at timestamps.
	UpdateLane(sessionID, laneID, summary string, now time.Time) error

	// LatestPrimaryLaneID resolves the most recent primary lane for a
	// session from membership history. Empty string when none exists.
	LatestPrimaryLaneID(sessionID string) (string, error)

	// UpsertMemberships writes a batch of memberships for one message.
	// Re-saving a (session, message, lane) triple overwrites relevance,
	// primary flag, and timestamp.
	UpsertMemberships(memberships []lane.Membership) error

	// MembershipsForMessages maps each given message id to the lane ids
	// it belongs to. Messages without memberships are absent from the map.
	MembershipsForMessages(sessionID string, messageIDs []string) (map[string][]string, error)

	// AppendSwitchEvent appends to the switch audit log.
	AppendSwitchEvent(ev *lane.SwitchEvent) error

	// ListSwitchEvents returns recent switch events, newest first.
	ListSwitchEvents(sessionID string, limit int) ([]lane.SwitchEvent, error)

	// SetOverride stores the session's manual override, replacing any
	// previous one (single row per session, last write wins).
	SetOverride(o lane.ManualOverride) error

	// ClearOverride removes the session's manual override, if any.
	ClearOverride(sessionID string) error

	// GetOverride returns the session's override, or nil when absent. An
	// expired override is deleted on read and nil is returned — lazy
	// expiry happens exactly once.
	GetOverride(sessionID string, now time.Time) (*lane.ManualOverride, error)

	// Stats returns row counts per logical table.
	Stats() (map[string]int64, error)

	// Close releases backend resources.
	Close() error
}

// Config selects the storage backend.
type Config struct {
	// Path is the SQLite database path. Empty selects the in-memory
	// backend directly.
	Path string `yaml:"path" json:"path"`

	// DisablePersistence forces the in-memory backend even when a path
	// is configured.
	DisablePersistence bool `yaml:"disable_persistence" json:"disable_persistence"`
}

// Open constructs the lane store. It attempts the durable SQLite backend
// and downgrades silently to the in-memory implementation on any
// initialization failure; the choice is logged but never surfaced as an
// error to callers.
func Open(cfg Config) LaneStore {
	if cfg.DisablePersistence || cfg.Path == "" {
		logging.Boot("Lane store: in-memory backend (persistence disabled)")
		return NewMemoryStore()
	}

	s, err := NewSQLiteStore(cfg.Path)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn(
			"Lane store: SQLite unavailable at %s (%v); falling back to in-memory backend", cfg.Path, err)
		return NewMemoryStore()
	}

	logging.Boot("Lane store: SQLite backend at %s", cfg.Path)
	return s
}
