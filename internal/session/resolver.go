// Package session maps physical transcript logs to canonical sessions.
// A canonical session may span several physical logs when compaction rolls
// the transcript over; the resolver owns the link table that ties them
// together.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seiyakubo/ccmem/internal/parse"
	"github.com/seiyakubo/ccmem/internal/record"
	"github.com/seiyakubo/ccmem/internal/store"
)

// DefaultStaleness bounds how old a termination breadcrumb may be and still
// link a freshly-started log to its predecessor.
const DefaultStaleness = 5 * time.Minute

// continuation announcement injected as the first message of a post-compaction log
var (
	continuationRe = regexp.MustCompile(`(?i)(?:continued from a previous (?:conversation|session)|session was compacted)`)
	logIDRe        = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	logPathRe      = regexp.MustCompile(`([\w-]+)\.jsonl`)
)

type Resolver struct {
	DB        *store.DB
	Records   *record.Store
	Crumbs    string // breadcrumb directory
	Staleness time.Duration
}

func NewResolver(db *store.DB, records *record.Store, crumbDir string) *Resolver {
	return &Resolver{
		DB:        db,
		Records:   records,
		Crumbs:    crumbDir,
		Staleness: DefaultStaleness,
	}
}

// Resolve maps a physical log id to its canonical session id. Resolution is
// a single hop: if A links to B and B links to C, resolving A yields B, not
// C. Known limitation; chains are short-lived in practice because new links
// always target the session returned by resolving their predecessor.
// Without a link the canonical id is a locally-derived short identifier.
func (r *Resolver) Resolve(logID string) (string, error) {
	linked, err := r.DB.GetLink(logID)
	if err != nil {
		return "", err
	}
	if linked != "" {
		return linked, nil
	}
	return ShortID(logID), nil
}

// ShortID derives the local canonical id for an unlinked log.
func ShortID(logID string) string {
	id := strings.TrimSpace(logID)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// DetectContinuation inspects the first turns of a fresh log for the
// compaction announcement citing the prior log, and resolves the cited log
// to its canonical session. Returns "" when the log does not continue
// anything.
func (r *Resolver) DetectContinuation(first []parse.Interaction) (string, error) {
	limit := len(first)
	if limit > 3 {
		limit = 3
	}
	for _, it := range first[:limit] {
		text := it.UserText
		if text == "" {
			continue
		}
		if !it.IsCompactSummary && !continuationRe.MatchString(text) {
			continue
		}
		oldID := extractLogRef(text)
		if oldID == "" {
			continue
		}
		return r.Resolve(oldID)
	}
	return "", nil
}

func extractLogRef(text string) string {
	if m := logIDRe.FindString(text); m != "" {
		return m
	}
	if m := logPathRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// Link persists logID -> sessionID and opens a work period on the canonical
// session's record. A log that is already linked is left untouched.
func (r *Resolver) Link(logID, sessionID string) error {
	existing, err := r.DB.GetLink(logID)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	if err := r.DB.PutLink(logID, sessionID); err != nil {
		return err
	}
	return r.Records.AppendWorkPeriod(sessionID, time.Now().UTC())
}

// breadcrumb is the termination marker left for the successor log.
type breadcrumb struct {
	LogID     string    `json:"logId"`
	DroppedAt time.Time `json:"droppedAt"`
}

func (r *Resolver) crumbPath(logID string) string {
	return filepath.Join(r.Crumbs, logID+".json")
}

// DropBreadcrumb records that logID just terminated. The successor log may
// start before its own first event is observable, so the crumb carries the
// link across that race.
func (r *Resolver) DropBreadcrumb(logID string) error {
	if err := os.MkdirAll(r.Crumbs, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(breadcrumb{LogID: logID, DroppedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return os.WriteFile(r.crumbPath(logID), data, 0o644)
}

// CheckBreadcrumb looks for a fresh termination crumb from another log and,
// if one exists, eagerly links newLogID to the terminated log's canonical
// session. The crumb stays on disk afterwards; SweepBreadcrumbs retires it.
// Processing the same crumb twice is harmless.
func (r *Resolver) CheckBreadcrumb(newLogID string) (string, error) {
	crumbs, err := r.readCrumbs()
	if err != nil {
		return "", err
	}

	var best *breadcrumb
	for i := range crumbs {
		c := &crumbs[i]
		if c.LogID == newLogID {
			continue
		}
		if time.Since(c.DroppedAt) > r.Staleness {
			continue
		}
		if best == nil || c.DroppedAt.After(best.DroppedAt) {
			best = c
		}
	}
	if best == nil {
		return "", nil
	}

	sessionID, err := r.Resolve(best.LogID)
	if err != nil {
		return "", err
	}
	if err := r.Link(newLogID, sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// SweepBreadcrumbs is the idempotent startup handler: it closes open work
// periods for sessions whose logs terminated, and removes crumbs past the
// staleness window.
func (r *Resolver) SweepBreadcrumbs(now time.Time) error {
	crumbs, err := r.readCrumbs()
	if err != nil {
		return err
	}
	var firstErr error
	for _, c := range crumbs {
		sessionID, err := r.Resolve(c.LogID)
		if err == nil {
			err = r.Records.CloseOpenWorkPeriods(sessionID, c.DroppedAt)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sweep crumb %s: %w", c.LogID, err)
		}
		if now.Sub(c.DroppedAt) > r.Staleness {
			os.Remove(r.crumbPath(c.LogID))
		}
	}
	return firstErr
}

// RemoveBreadcrumb drops the crumb for one log, if present.
func (r *Resolver) RemoveBreadcrumb(logID string) error {
	err := os.Remove(r.crumbPath(logID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (r *Resolver) readCrumbs() ([]breadcrumb, error) {
	entries, err := os.ReadDir(r.Crumbs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []breadcrumb
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.Crumbs, e.Name()))
		if err != nil {
			continue
		}
		var c breadcrumb
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
