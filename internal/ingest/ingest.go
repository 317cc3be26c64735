// Package ingest turns the append-only transcript into durable interaction
// rows: resolve the canonical session, parse past the saved offset, merge
// against the pending pre-compact backup, persist, and advance the save
// state. Every step is safe to re-run.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seiyakubo/ccmem/internal/backup"
	"github.com/seiyakubo/ccmem/internal/parse"
	"github.com/seiyakubo/ccmem/internal/session"
	"github.com/seiyakubo/ccmem/internal/store"
)

type Request struct {
	LogID      string
	LogPath    string
	ProjectDir string
}

// Result is the structured outcome handed back to the hook dispatcher.
type Result struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"sessionId,omitempty"`
	Inserted   int    `json:"inserted"`
	TotalLines int    `json:"totalLines"`
	Message    string `json:"message"`
}

type Ingester struct {
	DB       *store.DB
	Backups  *backup.Store
	Resolver *session.Resolver
}

func fail(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

func (in *Ingester) Run(req Request) Result {
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
	afterLine := 0
	if prior != nil {
		afterLine = prior.LastSavedLine
	}

	parsed, err := parse.ParseTranscript(req.LogPath, afterLine)
	if err != nil {
		return fail("parse transcript: %v", err)
	}

	sessionID, err := in.resolveSession(req.LogID, prior == nil, parsed.Interactions)
	if err != nil {
		return fail("resolve session: %v", err)
	}

	st, err := in.DB.GetOrCreateSaveState(req.LogID, sessionID, req.ProjectDir)
	if err != nil {
		return fail("create save state: %v", err)
	}

	// the file may have grown with only-skippable lines; persist the new
	// line count anyway so the next incremental read stays anchored
	if len(parsed.Interactions) == 0 {
		if err := in.DB.UpdateSaveState(req.LogID, st.LastSavedAt, parsed.TotalLines); err != nil {
			return fail("update save state: %v", err)
		}
		return Result{
			Success:    true,
			SessionID:  sessionID,
			TotalLines: parsed.TotalLines,
			Message:    "no new interactions",
		}
	}

	// rows from earlier ingests of this log survive the replace; the merge
	// appends to them rather than rebuilding from scratch
	existing, err := in.DB.GetLogInteractions(req.LogID)
	if err != nil {
		return fail("read persisted interactions: %v", err)
	}
	var lastPersistedTS time.Time
	if len(existing) > 0 {
		lastPersistedTS = existing[len(existing)-1].Timestamp
	}

	snap, err := in.Backups.Load(sessionID)
	if err != nil {
		return fail("load backup: %v", err)
	}
	lastBackupTS := snap.LastTimestamp()

	// three sources, oldest first: persisted rows stay as they are, the
	// backup contributes what was never persisted, and the parse
	// contributes what neither has seen
	var incoming []parse.Interaction
	if snap != nil {
		for _, it := range snap.Interactions {
			if it.Timestamp.After(lastPersistedTS) {
				incoming = append(incoming, it)
			}
		}
	}
	cut := lastBackupTS
	if lastPersistedTS.After(cut) {
		cut = lastPersistedTS
	}
	for _, it := range parsed.Interactions {
		if it.Timestamp.After(cut) {
			incoming = append(incoming, it)
		}
	}

	rows := append(existing, buildRows(req.LogID, sessionID, incoming, len(existing))...)
	if len(rows) == 0 {
		if err := in.DB.UpdateSaveState(req.LogID, st.LastSavedAt, parsed.TotalLines); err != nil {
			return fail("update save state: %v", err)
		}
		return Result{
			Success:    true,
			SessionID:  sessionID,
			TotalLines: parsed.TotalLines,
			Message:    "no new interactions",
		}
	}

	if err := in.DB.ReplaceInteractions(req.LogID, rows); err != nil {
		return fail("persist interactions: %v", err)
	}

	if err := in.DB.AddFileTouches(collectTouches(sessionID, req.ProjectDir, incoming)); err != nil {
		return fail("persist file touches: %v", err)
	}

	if err := in.Backups.Clear(sessionID); err != nil {
		return fail("clear backup: %v", err)
	}

	lastTS := rows[len(rows)-1].Timestamp
	if err := in.DB.UpdateSaveState(req.LogID, lastTS, parsed.TotalLines); err != nil {
		return fail("update save state: %v", err)
	}

	return Result{
		Success:    true,
		SessionID:  sessionID,
		Inserted:   len(rows),
		TotalLines: parsed.TotalLines,
		Message:    fmt.Sprintf("saved %d rows", len(rows)),
	}
}

// resolveSession finds the canonical session for the log. On the first
// ingest of a new log it also runs continuation detection: a fresh
// breadcrumb from a just-terminated log wins, then an embedded compaction
// back-reference in the first turns, then the local fallback id.
func (in *Ingester) resolveSession(logID string, firstIngest bool, parsed []parse.Interaction) (string, error) {
	if !firstIngest {
		return in.Resolver.Resolve(logID)
	}

	if sid, err := in.Resolver.CheckBreadcrumb(logID); err != nil {
		return "", err
	} else if sid != "" {
		return sid, nil
	}

	sid, err := in.Resolver.DetectContinuation(parsed)
	if err != nil {
		return "", err
	}
	if sid != "" {
		if err := in.Resolver.Link(logID, sid); err != nil {
			return "", err
		}
		return sid, nil
	}

	return in.Resolver.Resolve(logID)
}

// metaPayload is the structured metadata attached to each persisted row.
type metaPayload struct {
	ThinkingText     string             `json:"thinkingText,omitempty"`
	ToolsUsed        []string           `json:"toolsUsed,omitempty"`
	ToolDetails      []parse.ToolDetail `json:"toolDetails,omitempty"`
	ToolResults      []parse.ToolResult `json:"toolResults,omitempty"`
	ProgressEvents   []string           `json:"progressEvents,omitempty"`
	InPlanMode       bool               `json:"inPlanMode,omitempty"`
	SlashCommand     string             `json:"slashCommand,omitempty"`
	IsCompactSummary bool               `json:"isCompactSummary,omitempty"`
	IsContinuation   bool               `json:"isContinuation,omitempty"`
}

// buildRows flattens interactions into store rows: one per user message and
// one per assistant response when present, sequenced from startSeq.
func buildRows(logID, sessionID string, interactions []parse.Interaction, startSeq int) []store.InteractionRow {
	var rows []store.InteractionRow
	seq := startSeq

	add := func(role, text string, ts time.Time, meta metaPayload) {
		payload, err := json.Marshal(meta)
		if err != nil {
			payload = []byte("{}")
		}
		rows = append(rows, store.InteractionRow{
			LogID:     logID,
			Seq:       seq,
			SessionID: sessionID,
			Timestamp: ts,
			Role:      role,
			Text:      text,
			Meta:      string(payload),
		})
		seq++
	}

	for _, it := range interactions {
		meta := metaPayload{
			ToolsUsed:        it.ToolsUsed,
			ToolDetails:      it.ToolDetails,
			ToolResults:      it.ToolResults,
			ProgressEvents:   it.ProgressEvents,
			InPlanMode:       it.InPlanMode,
			SlashCommand:     it.SlashCommand,
			IsCompactSummary: it.IsCompactSummary,
			IsContinuation:   it.IsContinuation,
		}
		if it.UserText != "" {
			add("user", it.UserText, it.Timestamp, meta)
		}
		if it.AssistantText != "" || it.ThinkingText != "" {
			meta.ThinkingText = it.ThinkingText
			add("assistant", it.AssistantText, it.Timestamp, meta)
		}
	}
	return rows
}

// directories whose contents never land in the file-touch index
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".next":        true,
}

// collectTouches derives the file-touch index rows from tool details and
// tool results. Only absolute paths inside the project qualify; paths are
// stored relative to the project root and deduplicated per call.
func collectTouches(sessionID, projectDir string, interactions []parse.Interaction) []store.FileTouch {
	seen := map[string]bool{}
	var touches []store.FileTouch

	add := func(absPath, tool string, ts time.Time) {
		rel, ok := qualifyPath(absPath, projectDir)
		if !ok {
			return
		}
		key := rel + "\x00" + tool
		if seen[key] {
			return
		}
		seen[key] = true
		touches = append(touches, store.FileTouch{
			SessionID: sessionID,
			FilePath:  rel,
			ToolName:  tool,
			Timestamp: ts,
		})
	}

	for _, it := range interactions {
		for _, d := range it.ToolDetails {
			add(d.Argument, d.Tool, it.Timestamp)
		}
		for _, r := range it.ToolResults {
			tool := r.ToolName
			if tool == "" {
				tool = "Read"
			}
			add(r.FilePath, tool, it.Timestamp)
		}
	}
	return touches
}

func qualifyPath(absPath, projectDir string) (string, bool) {
	if absPath == "" || !filepath.IsAbs(absPath) {
		return "", false
	}
	rel, err := filepath.Rel(projectDir, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if excludedDirs[part] {
			return "", false
		}
	}
	return rel, true
}
