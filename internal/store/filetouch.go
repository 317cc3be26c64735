package store

import "time"

// FileTouch is one row of the derived "files touched by this session" index.
// Written by ingest, read only by external collaborators.
type FileTouch struct {
	SessionID string
	FilePath  string // relative to the project root
	ToolName  string
	Timestamp time.Time
}

// AddFileTouches inserts rows, ignoring ones already present.
func (d *DB) AddFileTouches(touches []FileTouch) error {
	if len(touches) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO file_touches (session_id, file_path, tool_name, ts) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range touches {
		if _, err := stmt.Exec(t.SessionID, t.FilePath, t.ToolName, t.Timestamp.UTC().Format(timeFormat)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteFileTouches removes the index rows for one canonical session.
func (d *DB) DeleteFileTouches(sessionID string) error {
	_, err := d.db.Exec("DELETE FROM file_touches WHERE session_id = ?", sessionID)
	return err
}
