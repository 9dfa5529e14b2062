package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
)

// SQLiteStore is the durable LaneStore backend.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore opens (or creates) the SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("SQLite schema initialized at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *SQLiteStore) initialize() error {
	contextsTable := `
	CREATE TABLE IF NOT EXISTS contexts (
		session_id TEXT NOT NULL,
		id TEXT NOT NULL,
		owner_session_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		msg_count INTEGER NOT NULL DEFAULT 0,
		last_active_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_contexts_session_active ON contexts(session_id, status, last_active_at DESC);
	`

	membershipsTable := `
	CREATE TABLE IF NOT EXISTS context_memberships (
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		context_id TEXT NOT NULL,
		relevance REAL NOT NULL DEFAULT 0,
		is_primary INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, message_id, context_id)
	);
	CREATE INDEX IF NOT EXISTS idx_memberships_session_created ON context_memberships(session_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memberships_session_message ON context_memberships(session_id, message_id);
	`

	switchEventsTable := `
	CREATE TABLE IF NOT EXISTS context_switch_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		from_context_id TEXT,
		to_context_id TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_switch_events_session_created ON context_switch_events(session_id, created_at DESC);
	`

	overridesTable := `
	CREATE TABLE IF NOT EXISTS context_overrides (
		session_id TEXT PRIMARY KEY,
		context_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`

	for _, table := range []string{contextsTable, membershipsTable, switchEventsTable, overridesTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	logging.Store("Closing SQLite lane store")
	return s.db.Close()
}

// =============================================================================
// Lanes
// =============================================================================

// CountActiveLanes returns how many active lanes a session has.
func (s *SQLiteStore) CountActiveLanes(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM contexts WHERE session_id = ? AND status = 'active'`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count lanes: %w", err)
	}
	return count, nil
}

// ListActiveLanes returns active lanes sorted by last activity descending.
func (s *SQLiteStore) ListActiveLanes(sessionID string, limit int) ([]*lane.ContextLane, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListActiveLanes")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT session_id, id, owner_session_id, title, summary, status, msg_count, last_active_at, created_at, updated_at
	          FROM contexts
	          WHERE session_id = ? AND status = 'active'
	          ORDER BY last_active_at DESC, id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lanes: %w", err)
	}
	defer rows.Close()

	var lanes []*lane.ContextLane
	for rows.Next() {
		l, err := scanLane(rows)
		if err != nil {
			return nil, err
		}
		lanes = append(lanes, l)
	}
	return lanes, rows.Err()
}

// GetLane returns a lane or nil when it does not exist.
func (s *SQLiteStore) GetLane(sessionID, laneID string) (*lane.ContextLane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT session_id, id, owner_session_id, title, summary, status, msg_count, last_active_at, created_at, updated_at
		 FROM contexts WHERE session_id = ? AND id = ?`,
		sessionID, laneID,
	)
	l, err := scanLane(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// CreateLane inserts a new lane record.
func (s *SQLiteStore) CreateLane(l *lane.ContextLane) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Creating lane: session=%s id=%s title=%q", l.SessionID, l.ID, l.Title)

	_, err := s.db.Exec(
		`INSERT INTO contexts (session_id, id, owner_session_id, title, summary, status, msg_count, last_active_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.SessionID, l.ID, l.OwnerSessionID, l.Title, l.Summary, string(l.Status),
		l.MsgCount, toMillis(l.LastActiveAt), toMillis(l.CreatedAt), toMillis(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create lane: %w", err)
	}
	return nil
}

// UpdateLane replaces a lane's summary and bumps counters and timestamps.
func (s *SQLiteStore) UpdateLane(sessionID, laneID, summary string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE contexts
		 SET summary = ?, msg_count = msg_count + 1, last_active_at = ?, updated_at = ?
		 WHERE session_id = ? AND id = ?`,
		summary, toMillis(now), toMillis(now), sessionID, laneID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lane: %w", err)
	}
	return nil
}

// =============================================================================
// Memberships
// =============================================================================

// LatestPrimaryLaneID resolves the most recent primary lane for a session.
func (s *SQLiteStore) LatestPrimaryLaneID(sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var laneID string
	err := s.db.QueryRow(
		`SELECT context_id FROM context_memberships
		 WHERE session_id = ? AND is_primary = 1
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		sessionID,
	).Scan(&laneID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve latest primary: %w", err)
	}
	return laneID, nil
}

// UpsertMemberships writes a batch of memberships for one message.
func (s *SQLiteStore) UpsertMemberships(memberships []lane.Membership) error {
	if len(memberships) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO context_memberships (session_id, message_id, context_id, relevance, is_primary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, message_id, context_id)
		 DO UPDATE SET relevance = excluded.relevance, is_primary = excluded.is_primary, created_at = excluded.created_at`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range memberships {
		if _, err := stmt.Exec(m.SessionID, m.MessageID, m.LaneID, m.Relevance, boolToInt(m.IsPrimary), toMillis(m.CreatedAt)); err != nil {
			return fmt.Errorf("failed to upsert membership: %w", err)
		}
	}

	return tx.Commit()
}

// MembershipsForMessages maps message ids to the lane ids they belong to.
func (s *SQLiteStore) MembershipsForMessages(sessionID string, messageIDs []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(messageIDs) == 0 {
		return result, nil
	}

	timer := logging.StartTimer(logging.CategoryStore, "MembershipsForMessages")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(messageIDs)+1)
	args = append(args, sessionID)
	for _, id := range messageIDs {
		args = append(args, id)
	}

	rows, err := s.db.Query(
		`SELECT message_id, context_id FROM context_memberships
		 WHERE session_id = ? AND message_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, laneID string
		if err := rows.Scan(&messageID, &laneID); err != nil {
			return nil, err
		}
		result[messageID] = append(result[messageID], laneID)
	}
	return result, rows.Err()
}

// =============================================================================
// Switch Events
// =============================================================================

// AppendSwitchEvent appends to the switch audit log.
func (s *SQLiteStore) AppendSwitchEvent(ev *lane.SwitchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.SessionDebug("Switch event: session=%s %s -> %s reason=%s confidence=%.3f",
		ev.SessionID, ev.FromLaneID, ev.ToLaneID, ev.Reason, ev.Confidence)

	var from interface{}
	if ev.FromLaneID != "" {
		from = ev.FromLaneID
	}

	res, err := s.db.Exec(
		`INSERT INTO context_switch_events (session_id, message_id, from_context_id, to_context_id, confidence, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.MessageID, from, ev.ToLaneID, ev.Confidence, string(ev.Reason), toMillis(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append switch event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListSwitchEvents returns recent switch events, newest first.
func (s *SQLiteStore) ListSwitchEvents(sessionID string, limit int) ([]lane.SwitchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, message_id, from_context_id, to_context_id, confidence, reason, created_at
		 FROM context_switch_events
		 WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query switch events: %w", err)
	}
	defer rows.Close()

	var events []lane.SwitchEvent
	for rows.Next() {
		var ev lane.SwitchEvent
		var from sql.NullString
		var reason string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.MessageID, &from, &ev.ToLaneID, &ev.Confidence, &reason, &createdAt); err != nil {
			return nil, err
		}
		ev.FromLaneID = from.String
		ev.Reason = lane.SwitchReason(reason)
		ev.CreatedAt = fromMillis(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// Manual Overrides
// =============================================================================

// SetOverride stores the session's manual override, last write wins.
func (s *SQLiteStore) SetOverride(o lane.ManualOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.Session("Manual override set: session=%s lane=%s expires=%s",
		o.SessionID, o.LaneID, o.ExpiresAt.Format(time.RFC3339))

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO context_overrides (session_id, context_id, expires_at)
		 VALUES (?, ?, ?)`,
		o.SessionID, o.LaneID, toMillis(o.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// ClearOverride removes the session's manual override.
func (s *SQLiteStore) ClearOverride(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM context_overrides WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	return nil
}

// GetOverride returns the session's override with lazy expiry.
func (s *SQLiteStore) GetOverride(sessionID string, now time.Time) (*lane.ManualOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var laneID string
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT context_id, expires_at FROM context_overrides WHERE session_id = ?`,
		sessionID,
	).Scan(&laneID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get override: %w", err)
	}

	o := &lane.ManualOverride{SessionID: sessionID, LaneID: laneID, ExpiresAt: fromMillis(expiresAt)}
	if o.Expired(now) {
		logging.SessionDebug("Manual override expired, clearing: session=%s lane=%s", sessionID, laneID)
		if _, err := s.db.Exec(`DELETE FROM context_overrides WHERE session_id = ?`, sessionID); err != nil {
			return nil, fmt.Errorf("failed to clear expired override: %w", err)
		}
		return nil, nil
	}
	return o, nil
}

// =============================================================================
// Stats
// =============================================================================

// Stats returns row counts per table.
func (s *SQLiteStore) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"contexts", "context_memberships", "context_switch_events", "context_overrides"} {
		var count int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}

// =============================================================================
// Scan Helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLane(row rowScanner) (*lane.ContextLane, error) {
	var l lane.ContextLane
	var status string
	var lastActive, created, updated int64
	err := row.Scan(&l.SessionID, &l.ID, &l.OwnerSessionID, &l.Title, &l.Summary,
		&status, &l.MsgCount, &lastActive, &created, &updated)
	if err != nil {
		return nil, err
	}
	l.Status = lane.Status(status)
	l.LastActiveAt = fromMillis(lastActive)
	l.CreatedAt = fromMillis(created)
	l.UpdatedAt = fromMillis(updated)
	return &l, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
