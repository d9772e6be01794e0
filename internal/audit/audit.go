// Package audit is a best-effort, purely observational session-lifecycle
// trail, adapted from the teacher's internal/store crash-diagnosis pattern
// and trimmed to a single events table. It is never the "persisted state"
// the broker's contract refers to — that remains the session working
// directory only — and no operation's correctness depends on it.
package audit

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ehrlich-b/codeboxd/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Kind enumerates the session lifecycle transitions this trail records.
type Kind string

const (
	Created     Kind = "created"
	ExecStart   Kind = "exec_start"
	ExecEnd     Kind = "exec_end"
	TimedOut    Kind = "timed_out"
	Crashed     Kind = "crashed"
	Stopped     Kind = "stopped"
	IdleEvicted Kind = "idle_evicted"
)

// Trail is an embedded SQLite-backed log of session events.
type Trail struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at dsn. A dsn of
// ":memory:" is a reasonable choice for deployments that don't want this
// trail to outlive the process.
func Open(dsn string) (*Trail, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set WAL mode: %w", err)
	}
	t := &Trail{db: db}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return t, nil
}

func (t *Trail) Close() error {
	return t.db.Close()
}

func (t *Trail) migrate() error {
	if _, err := t.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := t.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := t.db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if _, err := t.db.Exec("INSERT INTO schema_migrations(version) VALUES (?)", f); err != nil {
			return fmt.Errorf("record migration %s: %w", f, err)
		}
	}
	return nil
}

// Record inserts one event row. Failures are logged, not returned — callers
// use this on the hot path and must never let observability block the
// broker's real work.
func (t *Trail) Record(sessionID string, kind Kind, detail string) {
	if t == nil {
		return
	}
	if _, err := t.db.Exec(
		"INSERT INTO events(session_id, kind, detail) VALUES (?, ?, ?)",
		sessionID, string(kind), detail,
	); err != nil {
		logger.Warn("audit: record failed", "session_id", sessionID, "kind", kind, "err", err)
	}
}

// Event is one recorded row, exposed for diagnostics tooling.
type Event struct {
	ID        int64
	SessionID string
	Kind      string
	Detail    string
	At        string
}

// Recent returns the most recent events across all sessions, newest first.
func (t *Trail) Recent(limit int) ([]Event, error) {
	rows, err := t.db.Query(
		"SELECT id, session_id, kind, COALESCE(detail, ''), at FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
