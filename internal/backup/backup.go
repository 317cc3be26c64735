// Package backup stores pre-compaction snapshots of a canonical session's
// interaction list. One latest snapshot per session; saving again supersedes
// the previous one.
package backup

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/seiyakubo/ccmem/internal/parse"
)

type Snapshot struct {
	SessionID    string              `json:"sessionId"`
	SavedAt      time.Time           `json:"savedAt"`
	Interactions []parse.Interaction `json:"interactions"`
}

// LastTimestamp is the timestamp of the snapshot's last interaction, or the
// zero time for an empty snapshot.
func (s *Snapshot) LastTimestamp() time.Time {
	if s == nil || len(s.Interactions) == 0 {
		return time.Time{}
	}
	return s.Interactions[len(s.Interactions)-1].Timestamp
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save writes the latest snapshot for sessionID, replacing any prior one.
func (s *Store) Save(sessionID string, interactions []parse.Interaction) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	snap := Snapshot{
		SessionID:    sessionID,
		SavedAt:      time.Now().UTC(),
		Interactions: interactions,
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path(sessionID), data, 0o644)
}

// Load returns the latest snapshot for sessionID. A missing or unreadable
// snapshot yields nil: backup data is best-effort and must never block
// ingest.
func (s *Store) Load(sessionID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.Path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil
	}
	return &snap, nil
}

// Clear removes the snapshot once ingest has folded it into the durable
// store. Idempotent.
func (s *Store) Clear(sessionID string) error {
	err := os.Remove(s.Path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
