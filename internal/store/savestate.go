package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveState is the incremental-ingest bookkeeping row for one physical log.
type SaveState struct {
	LogID         string
	SessionID     string
	ProjectPath   string
	LastSavedAt   time.Time
	LastSavedLine int
	Committed     bool
	UpdatedAt     time.Time
}

const saveStateCols = "log_id, session_id, project_path, last_saved_at, last_saved_line, committed, updated_at"

func scanSaveState(row interface{ Scan(...any) error }) (*SaveState, error) {
	var s SaveState
	var lastSaved, updated string
	err := row.Scan(&s.LogID, &s.SessionID, &s.ProjectPath, &lastSaved, &s.LastSavedLine, &s.Committed, &updated)
	if err != nil {
		return nil, err
	}
	s.LastSavedAt = parseStoredTime(lastSaved)
	s.UpdatedAt = parseStoredTime(updated)
	return &s, nil
}

func parseStoredTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetSaveState returns the row for logID, or nil when none exists.
func (d *DB) GetSaveState(logID string) (*SaveState, error) {
	row := d.db.QueryRow("SELECT "+saveStateCols+" FROM save_states WHERE log_id = ?", logID)
	s, err := scanSaveState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetOrCreateSaveState returns the existing row for logID or inserts a
// zeroed one. At most one insert is performed.
func (d *DB) GetOrCreateSaveState(logID, sessionID, projectPath string) (*SaveState, error) {
	s, err := d.GetSaveState(logID)
	if err != nil {
		return nil, err
	}
	if s != nil {
		return s, nil
	}

	now := time.Now().UTC()
	_, err = d.db.Exec(
		"INSERT OR IGNORE INTO save_states (log_id, session_id, project_path, updated_at) VALUES (?, ?, ?, ?)",
		logID, sessionID, projectPath, now.Format(timeFormat),
	)
	if err != nil {
		return nil, err
	}
	// re-read in case a concurrent invocation won the insert
	return d.GetSaveState(logID)
}

// UpdateSaveState overwrites the progress fields for logID. The saved line
// must not regress; a smaller value is a logic error in the caller.
func (d *DB) UpdateSaveState(logID string, lastTS time.Time, lastLine int) error {
	cur, err := d.GetSaveState(logID)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("no save state for log %s", logID)
	}
	if lastLine < cur.LastSavedLine {
		return fmt.Errorf("save state for log %s: line %d regresses below %d", logID, lastLine, cur.LastSavedLine)
	}

	now := time.Now().UTC()
	var tsVal string
	if !lastTS.IsZero() {
		tsVal = lastTS.UTC().Format(timeFormat)
	}
	_, err = d.db.Exec(
		"UPDATE save_states SET last_saved_at = ?, last_saved_line = ?, updated_at = ? WHERE log_id = ?",
		tsVal, lastLine, now.Format(timeFormat), logID,
	)
	return err
}

// MarkCommitted flips the committed flag. It upserts, so committing a session
// that was never incrementally ingested still leaves a committed row behind.
// Idempotent.
func (d *DB) MarkCommitted(logID, sessionID, projectPath string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := d.db.Exec(`
		INSERT INTO save_states (log_id, session_id, project_path, committed, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(log_id) DO UPDATE SET committed = 1, updated_at = excluded.updated_at`,
		logID, sessionID, projectPath, now,
	)
	return err
}

// ListUncommittedBefore returns save states with committed = 0 whose last
// update precedes cutoff. Used by the stale sweep.
func (d *DB) ListUncommittedBefore(cutoff time.Time) ([]SaveState, error) {
	rows, err := d.db.Query(
		"SELECT "+saveStateCols+" FROM save_states WHERE committed = 0 AND updated_at < ? ORDER BY log_id",
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveState
	for rows.Next() {
		s, err := scanSaveState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (d *DB) DeleteSaveState(logID string) error {
	_, err := d.db.Exec("DELETE FROM save_states WHERE log_id = ?", logID)
	return err
}

// SaveStatesForSession returns all physical-log rows belonging to one
// canonical session.
func (d *DB) SaveStatesForSession(sessionID string) ([]SaveState, error) {
	rows, err := d.db.Query(
		"SELECT "+saveStateCols+" FROM save_states WHERE session_id = ? ORDER BY log_id", sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveState
	for rows.Next() {
		s, err := scanSaveState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
