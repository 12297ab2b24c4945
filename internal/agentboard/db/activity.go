package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (db *DB) LogActivity(sessionID, eventType, fromStatus, toStatus, detail string) error {
	id := uuid.New().String()
	_, err := db.conn.Exec(`
		INSERT INTO activity_log (id, session_id, event_type, from_status, to_status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, eventType, fromStatus, toStatus, detail, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}

func (db *DB) ListActivity(sessionID string, limit, offset int) ([]ActivityEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, event_type, from_status, to_status, detail, created_at
		FROM activity_log WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var createdAt string
		err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.FromStatus, &e.ToStatus, &e.Detail, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
