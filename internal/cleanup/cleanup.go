// Package cleanup drives the retention state machine for finished sessions:
// finalize on session end, explicit commit, and the stale sweep over
// uncommitted save states. Cleanup failures are logged and never block the
// triggering operation.
package cleanup

import (
	"fmt"
	"os"
	"time"

	"github.com/seiyakubo/ccmem/internal/backup"
	"github.com/seiyakubo/ccmem/internal/record"
	"github.com/seiyakubo/ccmem/internal/session"
	"github.com/seiyakubo/ccmem/internal/store"
)

// Retention policies for sessions that finish without a summary.
const (
	PolicyImmediate = "immediate"
	PolicyGrace     = "grace"
	PolicyNever     = "never"
)

type Cleaner struct {
	DB        *store.DB
	Records   *record.Store
	Backups   *backup.Store
	Resolver  *session.Resolver
	Policy    string
	GraceDays int
}

// Result is the structured outcome handed back to the hook dispatcher.
type Result struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Deleted   int    `json:"deleted"`
	Message   string `json:"message"`
}

func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "WARN: "+format+"\n", args...)
}

// Commit marks the session's data as retained regardless of later sweeps.
// Works even when the session was never incrementally ingested.
func (c *Cleaner) Commit(logID, projectDir string) Result {
	if logID == "" {
		return Result{Message: "log id is required"}
	}
	sessionID, err := c.Resolver.Resolve(logID)
	if err != nil {
		return Result{Message: fmt.Sprintf("resolve session: %v", err)}
	}
	if err := c.DB.MarkCommitted(logID, sessionID, projectDir); err != nil {
		return Result{Message: fmt.Sprintf("mark committed: %v", err)}
	}
	return Result{Success: true, SessionID: sessionID, Message: "committed"}
}

// Finalize runs at session end. A summarized session is marked complete and
// its transient data stripped; an unsummarized one is marked uncommitted and
// handled by the configured policy. A termination breadcrumb is dropped
// first so a successor log started during the same compaction can find us.
func (c *Cleaner) Finalize(logID string) Result {
	if logID == "" {
		return Result{Message: "log id is required"}
	}

	if err := c.Resolver.DropBreadcrumb(logID); err != nil {
		warn("drop breadcrumb for %s: %v", logID, err)
	}

	sessionID, err := c.Resolver.Resolve(logID)
	if err != nil {
		return Result{Message: fmt.Sprintf("resolve session: %v", err)}
	}

	if err := c.Records.CloseOpenWorkPeriods(sessionID, time.Now().UTC()); err != nil {
		warn("close work periods for %s: %v", sessionID, err)
	}

	rec, err := c.Records.Load(sessionID)
	if err != nil {
		warn("load record for %s: %v", sessionID, err)
	}

	if rec != nil && rec.HasSummary() {
		// the durable store holds everything now; the record keeps only
		// its curated fields
		if err := c.Records.SetStatus(sessionID, record.StatusComplete); err != nil {
			warn("mark complete %s: %v", sessionID, err)
		}
		if err := c.Records.StripTransient(sessionID); err != nil {
			warn("strip transient %s: %v", sessionID, err)
		}
		if err := c.Backups.Clear(sessionID); err != nil {
			warn("clear backup %s: %v", sessionID, err)
		}
		return Result{Success: true, SessionID: sessionID, Message: "complete"}
	}

	if err := c.Records.SetStatus(sessionID, record.StatusUncommitted); err != nil {
		warn("mark uncommitted %s: %v", sessionID, err)
	}

	switch c.Policy {
	case PolicyImmediate:
		return c.finalizeImmediate(logID, sessionID)
	case PolicyGrace:
		after := time.Now().UTC().AddDate(0, 0, c.GraceDays)
		if err := c.Records.SetCleanupAfter(sessionID, after); err != nil {
			warn("schedule cleanup for %s: %v", sessionID, err)
		}
		return Result{Success: true, SessionID: sessionID, Message: "uncommitted, cleanup scheduled"}
	default: // PolicyNever
		return Result{Success: true, SessionID: sessionID, Message: "uncommitted, retained"}
	}
}

// finalizeImmediate deletes an abandoned session right away, unless the
// durable commit flag says otherwise. Two commit signals race independently;
// a committed flag without a summary reconciles to complete instead of
// deleting.
func (c *Cleaner) finalizeImmediate(logID, sessionID string) Result {
	st, err := c.DB.GetSaveState(logID)
	if err != nil {
		warn("read save state %s: %v", logID, err)
		return Result{Success: true, SessionID: sessionID, Message: "uncommitted, delete skipped"}
	}
	if st != nil && st.Committed {
		if err := c.Records.SetStatus(sessionID, record.StatusComplete); err != nil {
			warn("reconcile complete %s: %v", sessionID, err)
		}
		return Result{Success: true, SessionID: sessionID, Message: "reconciled complete"}
	}

	deleted := c.deleteSession(sessionID)
	return Result{Success: true, SessionID: sessionID, Deleted: deleted, Message: "deleted"}
}

// deleteSession removes the session's durable and on-disk data. Returns the
// number of interaction rows removed. Each step is logged on failure and the
// rest proceed.
func (c *Cleaner) deleteSession(sessionID string) int {
	count, err := c.DB.CountInteractions(sessionID)
	if err != nil {
		warn("count interactions %s: %v", sessionID, err)
	}
	if err := c.DB.DeleteSessionInteractions(sessionID); err != nil {
		warn("delete interactions %s: %v", sessionID, err)
	}
	if err := c.DB.DeleteFileTouches(sessionID); err != nil {
		warn("delete file touches %s: %v", sessionID, err)
	}
	states, err := c.DB.SaveStatesForSession(sessionID)
	if err != nil {
		warn("list save states %s: %v", sessionID, err)
	}
	for _, st := range states {
		if err := c.DB.DeleteSaveState(st.LogID); err != nil {
			warn("delete save state %s: %v", st.LogID, err)
		}
		if err := c.Resolver.RemoveBreadcrumb(st.LogID); err != nil {
			warn("remove breadcrumb %s: %v", st.LogID, err)
		}
	}
	if err := c.DB.DeleteLinksForSession(sessionID); err != nil {
		warn("delete links %s: %v", sessionID, err)
	}
	if err := c.Records.Delete(sessionID); err != nil {
		warn("delete record %s: %v", sessionID, err)
	}
	if err := c.Backups.Clear(sessionID); err != nil {
		warn("clear backup %s: %v", sessionID, err)
	}
	return count
}

// SweepStale deletes uncommitted sessions whose save state went quiet before
// the grace window. Preconditions are re-checked immediately before each
// delete: a summary added since scheduling, or a cleanup-after time still in
// the future, spares the session.
func (c *Cleaner) SweepStale(graceDays int) Result {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -graceDays)

	states, err := c.DB.ListUncommittedBefore(cutoff)
	if err != nil {
		return Result{Message: fmt.Sprintf("list stale save states: %v", err)}
	}

	seen := map[string]bool{}
	sessions := 0
	deleted := 0
	for _, st := range states {
		sessionID := st.SessionID
		if seen[sessionID] {
			continue
		}
		seen[sessionID] = true

		rec, err := c.Records.Load(sessionID)
		if err != nil {
			warn("load record %s: %v", sessionID, err)
			continue
		}
		if rec != nil && rec.HasSummary() {
			continue
		}
		if rec != nil && rec.CleanupAfter != nil && now.Before(*rec.CleanupAfter) {
			continue
		}

		deleted += c.deleteSession(sessionID)
		sessions++
	}

	return Result{
		Success: true,
		Deleted: deleted,
		Message: fmt.Sprintf("swept %d stale sessions, removed %d interactions", sessions, deleted),
	}
}
