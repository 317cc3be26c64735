package ingest

import (
	"os"

	"github.com/seiyakubo/ccmem/internal/parse"
)

// SaveBackup snapshots the canonical session's interaction list ahead of an
// anticipated compaction, so nothing is lost if the log rolls over before
// the next ingest runs. The full live log is parsed and merged over the
// prior snapshot; the result replaces it as the one latest backup.
func (in *Ingester) SaveBackup(req Request) Result {
	if req.LogID == "" || req.LogPath == "" || req.ProjectDir == "" {
		return fail("log id, log path, and project dir are required")
	}
	if _, err := os.Stat(req.LogPath); err != nil {
		return fail("transcript not found: %v", err)
	}

	prior, err := in.DB.GetSaveState(req.LogID)
	if err != nil {
		return fail("read save state: %v", err)
	}

	parsed, err := parse.ParseTranscript(req.LogPath, 0)
	if err != nil {
		return fail("parse transcript: %v", err)
	}

	// same resolution as ingest: a backup fired on a log that was never
	// ingested must still land under the canonical session
	sessionID, err := in.resolveSession(req.LogID, prior == nil, parsed.Interactions)
	if err != nil {
		return fail("resolve session: %v", err)
	}

	snap, err := in.Backups.Load(sessionID)
	if err != nil {
		return fail("load backup: %v", err)
	}
	lastTS := snap.LastTimestamp()

	var merged []parse.Interaction
	if snap != nil {
		merged = append(merged, snap.Interactions...)
	}
	for _, it := range parsed.Interactions {
		if it.Timestamp.After(lastTS) {
			merged = append(merged, it)
		}
	}

	if err := in.Backups.Save(sessionID, merged); err != nil {
		return fail("save backup: %v", err)
	}

	return Result{
		Success:    true,
		SessionID:  sessionID,
		Inserted:   len(merged),
		TotalLines: parsed.TotalLines,
		Message:    "backup saved",
	}
}
