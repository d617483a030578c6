package journal

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event kinds written by the daemon.
const (
	KindLearned    = "learned"
	KindRecalled   = "recalled"
	KindVerified   = "verified"
	KindForgot     = "forgot"
	KindWarmed     = "warmed"
	KindLevelUp    = "level_up"
	KindMused      = "mused"
	KindPlan       = "plan"
	KindCheckpoint = "checkpoint"
	KindReloaded   = "reloaded"
	KindHeartbeat  = "heartbeat"
)

// Event is one journal entry.
type Event struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"` // unix millis
}

// Append records an event. payload must be JSON-serializable; nil stores {}.
func (db *DB) Append(kind, topic string, payload any) (Event, error) {
	body := []byte("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		body = b
	}
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Topic:     topic,
		Payload:   body,
		CreatedAt: db.now().UnixMilli(),
	}
	res, err := db.Exec(`
		INSERT INTO events (id, kind, topic, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.Kind, ev.Topic, string(body), ev.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	ev.Seq, _ = res.LastInsertId()
	return ev, nil
}

// Recent returns up to limit events, newest first. kind filters when non-empty.
func (db *DB) Recent(kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT seq, id, kind, topic, payload, created_at FROM events`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	return db.query("recent events", q, args...)
}

// Since returns events after seq, oldest first, for replay to a client
// that reconnects.
func (db *DB) Since(seq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 200
	}
	return db.query("events since", `
		SELECT seq, id, kind, topic, payload, created_at
		FROM events WHERE seq > ? ORDER BY seq LIMIT ?
	`, seq, limit)
}

// Prune keeps the newest keep events and deletes the rest.
func (db *DB) Prune(keep int) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM events WHERE seq NOT IN (
			SELECT seq FROM events ORDER BY seq DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored events.
func (db *DB) Count() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

func (db *DB) query(what, q string, args ...any) ([]Event, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e       Event
			payload string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Kind, &e.Topic, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}
