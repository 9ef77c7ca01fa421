// Package audit persists every emitted notification to a SQLite journal so
// off-chain observers can reconstruct escrow history without replaying state.
package audit

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dealvault/core/events"
	"dealvault/core/types"
)

// Entry is one journalled notification.
type Entry struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

// Store is an append-only event journal backed by SQLite. It implements
// events.Emitter so modules can fan events into it directly.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// eventPayload is the subset of emitted events that carry a structured
// payload worth journalling.
type eventPayload interface {
	events.Event
	Event() *types.Event
}

// Open creates or opens the journal at the provided path (":memory:" for
// tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS events (
        sequence INTEGER PRIMARY KEY AUTOINCREMENT,
        type TEXT NOT NULL,
        attributes TEXT NOT NULL,
        created_at INTEGER NOT NULL
    );`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit implements events.Emitter. Events without a structured payload are
// journalled with their type only. Journal failures are swallowed: the
// journal is an observer, never a gate on state transitions.
func (s *Store) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := map[string]string{}
	if payload, ok := evt.(eventPayload); ok {
		if inner := payload.Event(); inner != nil && inner.Attributes != nil {
			attrs = inner.Attributes
		}
	}
	_ = s.Append(evt.EventType(), attrs)
}

// Append journals a single notification.
func (s *Store) Append(eventType string, attributes map[string]string) error {
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO events (type, attributes, created_at) VALUES (?, ?, ?)`,
		eventType, string(encoded), time.Now().Unix(),
	)
	return err
}

// Recent returns the newest entries, newest-first, capped at limit.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT sequence, type, attributes, created_at FROM events ORDER BY sequence DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var attrs string
		if err := rows.Scan(&entry.Sequence, &entry.Type, &attrs, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
