// Package history persists usage snapshots to a local SQLite database so the
// display can show trends and a last-known reading across restarts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"clawmon/internal/localusage"
	"clawmon/internal/usage"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	captured_at TEXT NOT NULL,
	session_percent REAL NOT NULL,
	week_percent REAL NOT NULL,
	scraped INTEGER NOT NULL,
	local_today_tokens INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);
`

// Entry is one stored reading.
type Entry struct {
	ID               int64
	CapturedAt       time.Time
	Snapshot         usage.Snapshot
	LocalTodayTokens int64
}

// Store wraps the snapshot database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a snapshot together with the local token count at capture
// time.
func (s *Store) Append(ctx context.Context, snap usage.Snapshot, local localusage.Summary) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	scraped := 0
	if snap.Scraped {
		scraped = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (captured_at, session_percent, week_percent, scraped, local_today_tokens, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.CapturedAt.UTC().Format(time.RFC3339),
		snap.SessionPercent, snap.WeekPercent, scraped,
		local.TodayTokens, string(payload))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, captured_at, local_today_tokens, payload
		 FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var capturedAt, payload string
		if err := rows.Scan(&e.ID, &capturedAt, &e.LocalTodayTokens, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, capturedAt); parseErr == nil {
			e.CapturedAt = ts
		}
		if err := json.Unmarshal([]byte(payload), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Latest returns the most recent entry, or ok=false when the store is empty.
func (s *Store) Latest(ctx context.Context) (Entry, bool, error) {
	entries, err := s.Recent(ctx, 1)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

// Prune deletes entries older than the retention window.
func (s *Store) Prune(ctx context.Context, keep time.Duration) error {
	cutoff := time.Now().Add(-keep).UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE captured_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}
