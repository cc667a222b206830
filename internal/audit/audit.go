// Package audit is the append-only record of event processing outcomes,
// keyed by correlation id. Records are never updated or deleted.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	OutcomeDelivered           = "delivered"
	OutcomeFailed              = "failed"
	OutcomeDuplicateSuppressed = "duplicate_suppressed"
)

// Record is one processing outcome. CorrelationID is unique per delivery.
type Record struct {
	CorrelationID string    `json:"correlation_id"`
	EventID       string    `json:"event_id"`
	Channel       string    `json:"channel"`
	Requestor     string    `json:"requestor"`
	QueryText     string    `json:"query_text"`
	ThreadRoot    string    `json:"thread_root"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	LatencyMS     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	correlation_id TEXT PRIMARY KEY,
	event_id       TEXT NOT NULL,
	channel        TEXT NOT NULL,
	requestor      TEXT NOT NULL,
	query_text     TEXT NOT NULL,
	thread_root    TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	latency_ms     INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
)`

// Log is a SQLite-backed audit log. Safe for concurrent writers.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit db path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append inserts rec. There is no update path; a duplicate correlation id
// is an error.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("audit log is not initialized")
	}
	correlationID := strings.TrimSpace(rec.CorrelationID)
	if correlationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	outcome := strings.TrimSpace(rec.Outcome)
	switch outcome {
	case OutcomeDelivered, OutcomeFailed, OutcomeDuplicateSuppressed:
	default:
		return fmt.Errorf("outcome %q is invalid", rec.Outcome)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log
		 (correlation_id, event_id, channel, requestor, query_text, thread_root, outcome, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		correlationID,
		strings.TrimSpace(rec.EventID),
		strings.TrimSpace(rec.Channel),
		strings.TrimSpace(rec.Requestor),
		rec.QueryText,
		strings.TrimSpace(rec.ThreadRoot),
		outcome,
		rec.Error,
		rec.LatencyMS,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Query returns the record for a correlation id, reporting whether one
// exists.
func (l *Log) Query(ctx context.Context, correlationID string) (*Record, bool, error) {
	if l == nil || l.db == nil {
		return nil, false, fmt.Errorf("audit log is not initialized")
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, false, fmt.Errorf("correlation_id is required")
	}
	row := l.db.QueryRowContext(ctx,
		`SELECT correlation_id, event_id, channel, requestor, query_text, thread_root, outcome, error, latency_ms, created_at
		 FROM audit_log WHERE correlation_id = ?`, correlationID)

	var rec Record
	var createdAt string
	err := row.Scan(
		&rec.CorrelationID,
		&rec.EventID,
		&rec.Channel,
		&rec.Requestor,
		&rec.QueryText,
		&rec.ThreadRoot,
		&rec.Outcome,
		&rec.Error,
		&rec.LatencyMS,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if parsed, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
		rec.CreatedAt = parsed
	}
	return &rec, true, nil
}

// QueryByEvent returns every record carrying the given delivery id,
// oldest first. A delivery that was retried shows its delivered row
// alongside one duplicate_suppressed row per suppressed redelivery.
func (l *Log) QueryByEvent(ctx context.Context, eventID string) ([]Record, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("audit log is not initialized")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT correlation_id, event_id, channel, requestor, query_text, thread_root, outcome, error, latency_ms, created_at
		 FROM audit_log WHERE event_id = ? ORDER BY created_at, correlation_id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var createdAt string
		if err := rows.Scan(
			&rec.CorrelationID,
			&rec.EventID,
			&rec.Channel,
			&rec.Requestor,
			&rec.QueryText,
			&rec.ThreadRoot,
			&rec.Outcome,
			&rec.Error,
			&rec.LatencyMS,
			&createdAt,
		); err != nil {
			return nil, err
		}
		if parsed, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			rec.CreatedAt = parsed
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
