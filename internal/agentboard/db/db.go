package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors returned by session store operations.
var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateID is returned when creating a session with an id that
	// already exists.
	ErrDuplicateID = errors.New("duplicate session id")
	// ErrVersionConflict is returned by CompareAndUpdateSession when the
	// stored record changed since it was read.
	ErrVersionConflict = errors.New("session version conflict")
)

type DB struct {
	conn *sql.DB
}

// Session is the durable record of one request to scope or resolve an
// issue via the external agent. Sessions are never deleted; they form an
// append-only audit trail of agent activity per issue.
type Session struct {
	ID              string
	IssueNumber     int
	IssueTitle      string
	Kind            string
	RemoteSessionID string
	ActionPlan      string
	ConfidenceScore *int
	Status          string

	// CommentedStatuses holds the statuses for which a tracker comment
	// has been recorded. It is the idempotency guard for comment
	// publishing and is not user-visible.
	CommentedStatuses []string

	// Version is the optimistic-concurrency counter. Every successful
	// CompareAndUpdateSession increments it.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCommented reports whether a comment has been recorded for status.
func (s Session) HasCommented(status string) bool {
	for _, c := range s.CommentedStatuses {
		if c == status {
			return true
		}
	}
	return false
}

// ActivityEntry is one row of the per-session audit timeline.
type ActivityEntry struct {
	ID         string
	SessionID  string
	EventType  string
	FromStatus string
	ToStatus   string
	Detail     string
	CreatedAt  time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	issue_number INTEGER NOT NULL,
	issue_title TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	remote_session_id TEXT NOT NULL DEFAULT '',
	action_plan TEXT NOT NULL DEFAULT '',
	confidence_score INTEGER,
	status TEXT NOT NULL,
	commented_statuses TEXT NOT NULL DEFAULT '[]',
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS activity_log (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	event_type TEXT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// DefaultPath returns the default database location under ~/.agentboard,
// creating the directory if needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	dir := filepath.Join(home, ".agentboard")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "agentboard.db"), nil
}

// Open opens (creating if necessary) the SQLite database at path and
// runs the schema migration. The migration is idempotent.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}
