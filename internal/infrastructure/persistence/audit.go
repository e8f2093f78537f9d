package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// AuditEntry is one recorded tool invocation. Args is already scrubbed by
// the registry before it reaches the log.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	Tool       string    `json:"tool"`
	Args       string    `json:"args"`
	OK         bool      `json:"ok"`
	DurationMS int64     `json:"duration_ms"`
}

// AuditLog appends tool invocations to a raw sqlite table, kept off gorm
// because it is write-heavy and append-only.
type AuditLog struct {
	db *sql.DB
}

// OpenLocalDB opens the shared local sqlite handle used by the audit log
// and the cron store.
func OpenLocalDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "open local db", err)
	}
	return db, nil
}

// NewAuditLog migrates the audit table over an open local handle.
func NewAuditLog(db *sql.DB) (*AuditLog, error) {
	const schema = `CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TIMESTAMP NOT NULL,
		session_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		args TEXT,
		ok INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);`
	if _, err := db.Exec(schema); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "migrate audit table", err)
	}
	return &AuditLog{db: db}, nil
}

// Append records one invocation. Failures are returned, not fatal; callers
// log and continue.
func (a *AuditLog) Append(e AuditEntry) error {
	_, err := a.db.Exec(
		`INSERT INTO audit_log (ts, session_id, tool, args, ok, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.SessionID, e.Tool, e.Args, boolInt(e.OK), e.DurationMS,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "append audit entry", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first, optionally filtered by
// session.
func (a *AuditLog) Recent(sessionID string, n int) ([]AuditEntry, error) {
	if n <= 0 {
		n = 50
	}
	query := `SELECT id, ts, session_id, tool, args, ok, duration_ms FROM audit_log`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, n)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "query audit log", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ok int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SessionID, &e.Tool, &e.Args, &ok, &e.DurationMS); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "scan audit row", err)
		}
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
