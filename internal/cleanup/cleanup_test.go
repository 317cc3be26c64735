package cleanup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seiyakubo/ccmem/internal/backup"
	"github.com/seiyakubo/ccmem/internal/parse"
	"github.com/seiyakubo/ccmem/internal/record"
	"github.com/seiyakubo/ccmem/internal/session"
	"github.com/seiyakubo/ccmem/internal/store"
)

const (
	logID     = "feedface-0000-1111-2222-333344445555"
	sessionID = "feedface"
)

type fixture struct {
	c       *Cleaner
	db      *store.DB
	records *record.Store
	backups *backup.Store
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	records := record.NewStore(filepath.Join(dir, "sessions"))
	backups := backup.NewStore(filepath.Join(dir, "backups"))
	resolver := session.NewResolver(db, records, filepath.Join(dir, "breadcrumbs"))

	return &fixture{
		c: &Cleaner{
			DB:        db,
			Records:   records,
			Backups:   backups,
			Resolver:  resolver,
			Policy:    policy,
			GraceDays: 7,
		},
		db:      db,
		records: records,
		backups: backups,
	}
}

func (f *fixture) seedSession(t *testing.T) {
	t.Helper()
	_, err := f.db.GetOrCreateSaveState(logID, sessionID, "/proj")
	require.NoError(t, err)
	require.NoError(t, f.db.ReplaceInteractions(logID, []store.InteractionRow{
		{LogID: logID, Seq: 0, SessionID: sessionID, Timestamp: time.Now(), Role: "user", Text: "hello"},
		{LogID: logID, Seq: 1, SessionID: sessionID, Timestamp: time.Now(), Role: "assistant", Text: "hi"},
	}))
}

func TestCommit(t *testing.T) {
	f := newFixture(t, PolicyGrace)

	res := f.c.Commit(logID, "/proj")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, sessionID, res.SessionID)

	st, err := f.db.GetSaveState(logID)
	require.NoError(t, err)
	require.NotNil(t, st, "commit without prior ingest still leaves a row")
	assert.True(t, st.Committed)

	// idempotent
	res = f.c.Commit(logID, "/proj")
	require.True(t, res.Success, res.Message)
}

func TestFinalizeWithSummaryCompletes(t *testing.T) {
	f := newFixture(t, PolicyImmediate)
	f.seedSession(t)
	require.NoError(t, f.records.Save(&record.Record{
		ID:      sessionID,
		Summary: "shipped the fix",
		Draft:   []map[string]any{{"raw": "payload"}},
	}))
	require.NoError(t, f.backups.Save(sessionID, []parse.Interaction{{UserText: "x", Timestamp: time.Now()}}))

	res := f.c.Finalize(logID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "complete", res.Message)

	rec, err := f.records.Load(sessionID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusComplete, rec.Status)
	assert.Nil(t, rec.Draft, "transient payloads are stripped once durable")

	snap, err := f.backups.Load(sessionID)
	require.NoError(t, err)
	assert.Nil(t, snap)

	// interactions survive
	n, err := f.db.CountInteractions(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFinalizeImmediateDeletesAbandoned(t *testing.T) {
	f := newFixture(t, PolicyImmediate)
	f.seedSession(t)

	res := f.c.Finalize(logID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "deleted", res.Message)
	assert.Equal(t, 2, res.Deleted)

	n, err := f.db.CountInteractions(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, err := f.db.GetSaveState(logID)
	require.NoError(t, err)
	assert.Nil(t, st)

	rec, err := f.records.Load(sessionID)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFinalizeImmediateReconcilesCommitted(t *testing.T) {
	// a commit signal landed even though no summary exists: keep the data
	f := newFixture(t, PolicyImmediate)
	f.seedSession(t)
	require.NoError(t, f.db.MarkCommitted(logID, sessionID, "/proj"))

	res := f.c.Finalize(logID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "reconciled complete", res.Message)

	n, err := f.db.CountInteractions(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := f.records.Load(sessionID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, record.StatusComplete, rec.Status)
}

func TestFinalizeGraceSchedulesCleanup(t *testing.T) {
	f := newFixture(t, PolicyGrace)
	f.seedSession(t)

	res := f.c.Finalize(logID)
	require.True(t, res.Success, res.Message)

	rec, err := f.records.Load(sessionID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusUncommitted, rec.Status)
	require.NotNil(t, rec.CleanupAfter)
	assert.True(t, rec.CleanupAfter.After(time.Now().AddDate(0, 0, 6)))

	n, err := f.db.CountInteractions(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "grace leaves the data for the sweep to decide")
}

func TestFinalizeNeverRetains(t *testing.T) {
	f := newFixture(t, PolicyNever)
	f.seedSession(t)

	res := f.c.Finalize(logID)
	require.True(t, res.Success, res.Message)

	n, err := f.db.CountInteractions(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFinalizeDropsBreadcrumb(t *testing.T) {
	f := newFixture(t, PolicyNever)
	f.seedSession(t)

	res := f.c.Finalize(logID)
	require.True(t, res.Success, res.Message)

	sid, err := f.c.Resolver.CheckBreadcrumb("successor-log")
	require.NoError(t, err)
	assert.Equal(t, sessionID, sid, "the termination crumb links the successor")
}

func backdateSaveState(t *testing.T, db *store.DB, id string, to time.Time) {
	t.Helper()
	_, err := db.Raw().Exec("UPDATE save_states SET updated_at = ? WHERE log_id = ?",
		to.UTC().Format(time.RFC3339), id)
	require.NoError(t, err)
}

func TestSweepDeletesStaleUncommitted(t *testing.T) {
	f := newFixture(t, PolicyGrace)
	f.seedSession(t)
	backdateSaveState(t, f.db, logID, time.Now().AddDate(0, 0, -30))

	res := f.c.SweepStale(7)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Deleted)

	n, err := f.db.CountInteractions(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	st, err := f.db.GetSaveState(logID)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSweepSparesRecentAndCommitted(t *testing.T) {
	f := newFixture(t, PolicyGrace)
	f.seedSession(t)

	// recent: inside the grace window
	res := f.c.SweepStale(7)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, res.Deleted)

	// committed: outside the window but retained
	require.NoError(t, f.db.MarkCommitted(logID, sessionID, "/proj"))
	backdateSaveState(t, f.db, logID, time.Now().AddDate(0, 0, -30))
	res = f.c.SweepStale(7)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, res.Deleted)
}

func TestSweepSparesLateSummary(t *testing.T) {
	// a summary added after scheduling spares the session regardless of age
	f := newFixture(t, PolicyGrace)
	f.seedSession(t)
	backdateSaveState(t, f.db, logID, time.Now().AddDate(0, 0, -30))
	require.NoError(t, f.records.Save(&record.Record{ID: sessionID, Summary: "written later"}))

	res := f.c.SweepStale(7)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, res.Deleted)

	n, err := f.db.CountInteractions(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSweepHonorsFutureCleanupAfter(t *testing.T) {
	f := newFixture(t, PolicyGrace)
	f.seedSession(t)
	backdateSaveState(t, f.db, logID, time.Now().AddDate(0, 0, -30))
	require.NoError(t, f.records.SetCleanupAfter(sessionID, time.Now().AddDate(0, 0, 3)))

	res := f.c.SweepStale(7)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, res.Deleted, "a future cleanup-after time defers deletion")
}
