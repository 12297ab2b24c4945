package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateSession persists a new session. When sess.ID is empty a uuid is
// assigned. Returns ErrDuplicateID (wrapped) if the id already exists.
func (db *DB) CreateSession(sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.Version = 1

	commented, err := marshalStatuses(sess.CommentedStatuses)
	if err != nil {
		return Session{}, fmt.Errorf("encoding commented statuses: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO sessions (id, issue_number, issue_title, kind, remote_session_id,
			action_plan, confidence_score, status, commented_statuses, version,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.IssueNumber, sess.IssueTitle, sess.Kind, sess.RemoteSessionID,
		sess.ActionPlan, nullableInt(sess.ConfidenceScore), sess.Status, commented, sess.Version,
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Session{}, fmt.Errorf("creating session %s: %w", sess.ID, ErrDuplicateID)
		}
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session with the given id, or an error wrapping
// ErrSessionNotFound.
func (db *DB) GetSession(id string) (Session, error) {
	row := db.conn.QueryRow(selectSessions+` WHERE id = ?`, id)
	sess, err := scanSessionRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return Session{}, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions ordered most recent first. A limit <= 0
// means no limit.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	query := selectSessions + ` ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListSessionsByStatus returns sessions whose status is in the given set,
// oldest first, so long-waiting sessions are reconciled before fresh ones.
func (db *DB) ListSessionsByStatus(statuses ...string) ([]Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = s
	}
	query := selectSessions + ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at ASC, rowid ASC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions by status: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CompareAndUpdateSession applies mutate to the session only if its
// stored version still equals expectedVersion. On success the version is
// incremented and updated_at refreshed; the updated record is returned.
// If the record changed since it was read, ErrVersionConflict (wrapped)
// is returned and nothing is written.
//
// This is the sole mutation primitive for existing sessions: concurrent
// reconciliation passes racing on the same session resolve to exactly
// one winner.
func (db *DB) CompareAndUpdateSession(id string, expectedVersion int64, mutate func(*Session)) (Session, error) {
	sess, err := db.GetSession(id)
	if err != nil {
		return Session{}, err
	}
	if sess.Version != expectedVersion {
		return Session{}, fmt.Errorf("updating session %s: expected version %d, found %d: %w",
			id, expectedVersion, sess.Version, ErrVersionConflict)
	}

	mutate(&sess)
	// Identity fields are not mutable through this path.
	sess.ID = id
	sess.Version = expectedVersion + 1
	sess.UpdatedAt = time.Now().UTC()

	commented, err := marshalStatuses(sess.CommentedStatuses)
	if err != nil {
		return Session{}, fmt.Errorf("encoding commented statuses: %w", err)
	}

	result, err := db.conn.Exec(`
		UPDATE sessions SET issue_number = ?, issue_title = ?, kind = ?,
			remote_session_id = ?, action_plan = ?, confidence_score = ?,
			status = ?, commented_statuses = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		sess.IssueNumber, sess.IssueTitle, sess.Kind,
		sess.RemoteSessionID, sess.ActionPlan, nullableInt(sess.ConfidenceScore),
		sess.Status, commented, sess.Version, sess.UpdatedAt.Format(time.RFC3339),
		id, expectedVersion,
	)
	if err != nil {
		return Session{}, fmt.Errorf("updating session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Lost the race between the read above and the write.
		return Session{}, fmt.Errorf("updating session %s: %w", id, ErrVersionConflict)
	}
	return sess, nil
}

const selectSessions = `
	SELECT id, issue_number, issue_title, kind, remote_session_id,
		action_plan, confidence_score, status, commented_statuses, version,
		created_at, updated_at
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionFields(r rowScanner) (Session, error) {
	var sess Session
	var confidence sql.NullInt64
	var commented, createdAt, updatedAt string
	err := r.Scan(&sess.ID, &sess.IssueNumber, &sess.IssueTitle, &sess.Kind,
		&sess.RemoteSessionID, &sess.ActionPlan, &confidence, &sess.Status,
		&commented, &sess.Version, &createdAt, &updatedAt)
	if err != nil {
		return Session{}, err
	}
	if confidence.Valid {
		v := int(confidence.Int64)
		sess.ConfidenceScore = &v
	}
	if err := json.Unmarshal([]byte(commented), &sess.CommentedStatuses); err != nil {
		return Session{}, fmt.Errorf("decoding commented statuses: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return sess, nil
}

func scanSession(rows *sql.Rows) (Session, error) {
	sess, err := scanSessionFields(rows)
	if err != nil {
		return Session{}, fmt.Errorf("scanning session: %w", err)
	}
	return sess, nil
}

func scanSessionRow(row *sql.Row) (Session, error) {
	return scanSessionFields(row)
}

func marshalStatuses(statuses []string) (string, error) {
	if statuses == nil {
		statuses = []string{}
	}
	data, err := json.Marshal(statuses)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
