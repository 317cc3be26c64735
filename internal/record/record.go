// Package record reads and patches the per-session YAML records. Titles,
// tags, and summaries originate elsewhere (the dashboard's summarizer); this
// core only checks for a summary and maintains status, work periods, and
// retention markers.
package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session statuses.
const (
	StatusActive      = "active"
	StatusComplete    = "complete"
	StatusUncommitted = "uncommitted"
)

// WorkPeriod is one span of wall-clock activity on the canonical session.
// End is nil while the period is open.
type WorkPeriod struct {
	Start time.Time  `yaml:"start"`
	End   *time.Time `yaml:"end,omitempty"`
}

// Record is the human-readable session document.
type Record struct {
	ID           string       `yaml:"id"`
	Title        string       `yaml:"title,omitempty"`
	Tags         []string     `yaml:"tags,omitempty"`
	Summary      string       `yaml:"summary,omitempty"`
	Status       string       `yaml:"status,omitempty"`
	CleanupAfter *time.Time   `yaml:"cleanup_after,omitempty"`
	WorkPeriods  []WorkPeriod `yaml:"work_periods,omitempty"`

	// Draft holds raw interaction payloads staged by collaborators before
	// ingest lands them in the durable store. Stripped on finalize.
	Draft []map[string]any `yaml:"draft,omitempty"`
}

func (r *Record) HasSummary() bool {
	return strings.TrimSpace(r.Summary) != ""
}

// Store is a directory of one YAML file per canonical session.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".yaml")
}

// Load returns the record for sessionID, or nil when none exists.
func (s *Store) Load(sessionID string) (*Record, error) {
	data, err := os.ReadFile(s.Path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", sessionID, err)
	}
	if r.ID == "" {
		r.ID = sessionID
	}
	return &r, nil
}

func (s *Store) Save(r *Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path(r.ID), data, 0o644)
}

func (s *Store) Delete(sessionID string) error {
	err := os.Remove(s.Path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// loadOrNew never fails on a missing file.
func (s *Store) loadOrNew(sessionID string) (*Record, error) {
	r, err := s.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = &Record{ID: sessionID, Status: StatusActive}
	}
	return r, nil
}

// SetStatus patches the status field, creating the record if needed.
func (s *Store) SetStatus(sessionID, status string) error {
	r, err := s.loadOrNew(sessionID)
	if err != nil {
		return err
	}
	r.Status = status
	return s.Save(r)
}

// SetCleanupAfter schedules the grace-policy sweep eligibility time.
func (s *Store) SetCleanupAfter(sessionID string, t time.Time) error {
	r, err := s.loadOrNew(sessionID)
	if err != nil {
		return err
	}
	tt := t.UTC()
	r.CleanupAfter = &tt
	return s.Save(r)
}

// AppendWorkPeriod opens a new activity span on the session.
func (s *Store) AppendWorkPeriod(sessionID string, start time.Time) error {
	r, err := s.loadOrNew(sessionID)
	if err != nil {
		return err
	}
	r.WorkPeriods = append(r.WorkPeriods, WorkPeriod{Start: start.UTC()})
	return s.Save(r)
}

// CloseOpenWorkPeriods sets End on every open span. Idempotent.
func (s *Store) CloseOpenWorkPeriods(sessionID string, end time.Time) error {
	r, err := s.Load(sessionID)
	if err != nil || r == nil {
		return err
	}
	changed := false
	e := end.UTC()
	for i := range r.WorkPeriods {
		if r.WorkPeriods[i].End == nil {
			r.WorkPeriods[i].End = &e
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.Save(r)
}

// StripTransient drops the staged payloads once they live in the durable
// store.
func (s *Store) StripTransient(sessionID string) error {
	r, err := s.Load(sessionID)
	if err != nil || r == nil {
		return err
	}
	if r.Draft == nil {
		return nil
	}
	r.Draft = nil
	return s.Save(r)
}
