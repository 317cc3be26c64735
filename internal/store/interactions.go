package store

import "time"

// InteractionRow is one persisted message: a user message or an assistant
// response, with its structured metadata serialized as a JSON payload.
type InteractionRow struct {
	LogID     string
	Seq       int
	SessionID string
	Timestamp time.Time
	Role      string // "user" or "assistant"
	Text      string
	Meta      string // JSON payload: tools, plan mode, slash command, results, progress
}

// ReplaceInteractions deletes every row previously written under logID and
// inserts rows in their place, in one transaction. Re-running with the same
// rows is a no-op in effect, which makes a crashed partial write safe to
// redo.
func (d *DB) ReplaceInteractions(logID string, rows []InteractionRow) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM interactions WHERE log_id = ?", logID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO interactions (log_id, seq, session_id, ts, role, text, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		meta := r.Meta
		if meta == "" {
			meta = "{}"
		}
		_, err := stmt.Exec(
			r.LogID, r.Seq, r.SessionID,
			r.Timestamp.UTC().Format(timeFormat),
			r.Role, r.Text, meta,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetInteractions returns all rows for a canonical session in display order.
func (d *DB) GetInteractions(sessionID string) ([]InteractionRow, error) {
	rows, err := d.db.Query(
		`SELECT log_id, seq, session_id, ts, role, text, meta
		 FROM interactions WHERE session_id = ? ORDER BY ts, seq`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InteractionRow
	for rows.Next() {
		var r InteractionRow
		var ts string
		if err := rows.Scan(&r.LogID, &r.Seq, &r.SessionID, &ts, &r.Role, &r.Text, &r.Meta); err != nil {
			return nil, err
		}
		r.Timestamp = parseStoredTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLogInteractions returns the rows persisted under one physical log in
// insertion order.
func (d *DB) GetLogInteractions(logID string) ([]InteractionRow, error) {
	rows, err := d.db.Query(
		`SELECT log_id, seq, session_id, ts, role, text, meta
		 FROM interactions WHERE log_id = ? ORDER BY seq`,
		logID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InteractionRow
	for rows.Next() {
		var r InteractionRow
		var ts string
		if err := rows.Scan(&r.LogID, &r.Seq, &r.SessionID, &ts, &r.Role, &r.Text, &r.Meta); err != nil {
			return nil, err
		}
		r.Timestamp = parseStoredTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) CountInteractions(sessionID string) (int, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM interactions WHERE session_id = ?", sessionID).Scan(&n)
	return n, err
}

// DeleteSessionInteractions removes every interaction for a canonical
// session, across all of its physical logs.
func (d *DB) DeleteSessionInteractions(sessionID string) error {
	_, err := d.db.Exec("DELETE FROM interactions WHERE session_id = ?", sessionID)
	return err
}
