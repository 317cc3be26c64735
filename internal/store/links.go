package store

import (
	"database/sql"
	"time"
)

// GetLink returns the canonical session id linked to logID, or "" when the
// log has no link.
func (d *DB) GetLink(logID string) (string, error) {
	var sessionID string
	err := d.db.QueryRow("SELECT session_id FROM session_links WHERE log_id = ?", logID).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// PutLink persists logID -> sessionID. A no-op when the link already exists.
func (d *DB) PutLink(logID, sessionID string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO session_links (log_id, session_id, created_at) VALUES (?, ?, ?)",
		logID, sessionID, time.Now().UTC().Format(timeFormat),
	)
	return err
}

// DeleteLinksForSession removes every link pointing at sessionID.
func (d *DB) DeleteLinksForSession(sessionID string) error {
	_, err := d.db.Exec("DELETE FROM session_links WHERE session_id = ?", sessionID)
	return err
}
