// Package store persists the tower's event and interaction history in a
// SQLite database. One writer process owns the file; WAL mode plus a busy
// timeout keeps occasional read-only CLI queries (status, history) safe.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/agent-tower/internal/summarize"
	"github.com/asheshgoplani/agent-tower/internal/tower"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Store wraps the SQLite interaction log. Thread-safe for concurrent use
// from multiple goroutines within one process.
type Store struct {
	db *sql.DB
}

// EventRow is one recorded state-change event.
type EventRow struct {
	ID        int64
	Timestamp time.Time
	Session   string
	Kind      tower.EventKind
	State     tower.State
	KeyLines  []string
}

// InteractionRow is one recorded human decision round-trip.
type InteractionRow struct {
	ID          string
	Timestamp   time.Time
	Session     string
	Kind        tower.EventKind
	SpeechText  string
	Options     []summarize.Option
	Response    string
	Instruction string
	Outcome     string
}

// Open creates or opens the database at dbPath with WAL mode and a busy
// timeout, and runs migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         INTEGER NOT NULL,
			session    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			state      TEXT NOT NULL,
			key_lines  TEXT NOT NULL DEFAULT '[]'
		)
	`); err != nil {
		return fmt.Errorf("store: create events: %w", err)
	}
	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events (session, ts)
	`); err != nil {
		return fmt.Errorf("store: create events index: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS interactions (
			id           TEXT PRIMARY KEY,
			ts           INTEGER NOT NULL,
			session      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			speech_text  TEXT NOT NULL DEFAULT '',
			options      TEXT NOT NULL DEFAULT '[]',
			response     TEXT NOT NULL DEFAULT '',
			instruction  TEXT NOT NULL DEFAULT '',
			outcome      TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("store: create interactions: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	return tx.Commit()
}

// RecordEvent appends one state-change event. Raw pane text is not
// persisted; only the extracted key lines are, to keep the database small
// and free of full terminal contents.
func (s *Store) RecordEvent(ctx context.Context, ev tower.Event) error {
	keyLines, err := json.Marshal(ev.KeyLines)
	if err != nil {
		keyLines = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (ts, session, kind, state, key_lines)
		VALUES (?, ?, ?, ?, ?)
	`, ev.DetectedAt.Unix(), ev.SessionName, string(ev.Kind), string(ev.State), string(keyLines))
	return err
}

// RecordInteraction appends one decision round-trip.
func (s *Store) RecordInteraction(ctx context.Context, in tower.Interaction) error {
	options, err := json.Marshal(in.Options)
	if err != nil {
		options = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO interactions (
			id, ts, session, kind, speech_text, options, response, instruction, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.ID, in.Timestamp.Unix(), in.Session, string(in.EventKind),
		in.SpeechText, string(options), in.Response, in.Instruction, in.Outcome,
	)
	return err
}

// RecentEvents returns up to limit events, newest first, optionally
// filtered by session ("" means all sessions).
func (s *Store) RecentEvents(ctx context.Context, session string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, ts, session, kind, state, key_lines
		FROM events`
	args := []any{}
	if session != "" {
		query += " WHERE session = ?"
		args = append(args, session)
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventRow
	for rows.Next() {
		var r EventRow
		var ts int64
		var kind, state, keyLines string
		if err := rows.Scan(&r.ID, &ts, &r.Session, &kind, &state, &keyLines); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0)
		r.Kind = tower.EventKind(kind)
		r.State = tower.State(state)
		if err := json.Unmarshal([]byte(keyLines), &r.KeyLines); err != nil {
			r.KeyLines = nil
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// RecentInteractions returns up to limit interactions, newest first,
// optionally filtered by session.
func (s *Store) RecentInteractions(ctx context.Context, session string, limit int) ([]InteractionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, ts, session, kind, speech_text, options, response, instruction, outcome
		FROM interactions`
	args := []any{}
	if session != "" {
		query += " WHERE session = ?"
		args = append(args, session)
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []InteractionRow
	for rows.Next() {
		var r InteractionRow
		var ts int64
		var kind, options string
		if err := rows.Scan(&r.ID, &ts, &r.Session, &kind, &r.SpeechText, &options,
			&r.Response, &r.Instruction, &r.Outcome); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0)
		r.Kind = tower.EventKind(kind)
		if err := json.Unmarshal([]byte(options), &r.Options); err != nil {
			r.Options = nil
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// EventCounts returns how many events of each kind were recorded per
// session since the cutoff. Feeds the status report.
func (s *Store) EventCounts(ctx context.Context, since time.Time) (map[string]map[tower.EventKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, kind, COUNT(*)
		FROM events
		WHERE ts >= ?
		GROUP BY session, kind
	`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]map[tower.EventKind]int)
	for rows.Next() {
		var session, kind string
		var n int
		if err := rows.Scan(&session, &kind, &n); err != nil {
			return nil, err
		}
		if result[session] == nil {
			result[session] = make(map[tower.EventKind]int)
		}
		result[session][tower.EventKind(kind)] = n
	}
	return result, rows.Err()
}

// Prune removes events and interactions older than the cutoff.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	var total int64
	for _, table := range []string{"events", "interactions"} {
		res, err := s.db.ExecContext(ctx,
			// table names come from the fixed list above
			"DELETE FROM "+table+" WHERE ts < ?", cutoff)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// DescribeInteraction renders one interaction as a single log-style line.
func DescribeInteraction(r InteractionRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-12s %-10s", r.Timestamp.Format("2006-01-02 15:04:05"), r.Session, r.Kind)
	if r.Response != "" {
		fmt.Fprintf(&b, " response=%q", r.Response)
	}
	fmt.Fprintf(&b, " outcome=%s", r.Outcome)
	return b.String()
}
