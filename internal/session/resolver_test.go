package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seiyakubo/ccmem/internal/parse"
	"github.com/seiyakubo/ccmem/internal/record"
	"github.com/seiyakubo/ccmem/internal/store"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewResolver(db, record.NewStore(filepath.Join(dir, "sessions")), filepath.Join(dir, "breadcrumbs"))
}

func TestResolveFallsBackToShortID(t *testing.T) {
	r := newTestResolver(t)

	sid, err := r.Resolve("0a1b2c3d-4e5f-6789-abcd-ef0123456789")
	require.NoError(t, err)
	assert.Equal(t, "0a1b2c3d", sid)
}

func TestShortIDEmptyInput(t *testing.T) {
	a := ShortID("")
	b := ShortID("")
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}

func TestLinkAndResolve(t *testing.T) {
	r := newTestResolver(t)

	require.NoError(t, r.Link("log-b", "sess-a"))
	sid, err := r.Resolve("log-b")
	require.NoError(t, err)
	assert.Equal(t, "sess-a", sid)

	// relinking is a no-op and does not add a second work period
	require.NoError(t, r.Link("log-b", "sess-other"))
	sid, err = r.Resolve("log-b")
	require.NoError(t, err)
	assert.Equal(t, "sess-a", sid)

	rec, err := r.Records.Load("sess-a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.WorkPeriods, 1)
}

func TestResolveIsOneHop(t *testing.T) {
	r := newTestResolver(t)
	require.NoError(t, r.Link("log-b", "sess-a"))
	require.NoError(t, r.Link("log-c", "log-b"))

	// a chain is not collapsed: log-c resolves to log-b, not sess-a
	sid, err := r.Resolve("log-c")
	require.NoError(t, err)
	assert.Equal(t, "log-b", sid)
}

func TestDetectContinuation(t *testing.T) {
	r := newTestResolver(t)
	require.NoError(t, r.Link("11112222-3333-4444-5555-666677778888", "sess-master"))

	first := []parse.Interaction{{
		Timestamp: time.Now(),
		UserText:  "This session is being continued from a previous conversation 11112222-3333-4444-5555-666677778888 that ran out of context.",
	}}
	sid, err := r.DetectContinuation(first)
	require.NoError(t, err)
	assert.Equal(t, "sess-master", sid)
}

func TestDetectContinuationViaCompactSummaryFlag(t *testing.T) {
	r := newTestResolver(t)

	first := []parse.Interaction{{
		Timestamp:        time.Now(),
		IsCompactSummary: true,
		UserText:         "Summary of prior work, transcript at aaaabbbb-cccc-dddd-eeee-ffff00001111.jsonl",
	}}
	sid, err := r.DetectContinuation(first)
	require.NoError(t, err)
	// unlinked predecessor resolves to its local short id
	assert.Equal(t, "aaaabbbb", sid)
}

func TestDetectContinuationNone(t *testing.T) {
	r := newTestResolver(t)

	sid, err := r.DetectContinuation([]parse.Interaction{{UserText: "just a normal question"}})
	require.NoError(t, err)
	assert.Empty(t, sid)

	sid, err = r.DetectContinuation(nil)
	require.NoError(t, err)
	assert.Empty(t, sid)
}

func TestBreadcrumbLinksSuccessor(t *testing.T) {
	r := newTestResolver(t)
	require.NoError(t, r.DropBreadcrumb("old-log-id-0001"))

	sid, err := r.CheckBreadcrumb("new-log-id-0002")
	require.NoError(t, err)
	assert.Equal(t, "old-log-", sid)

	// the successor is now linked
	resolved, err := r.Resolve("new-log-id-0002")
	require.NoError(t, err)
	assert.Equal(t, sid, resolved)

	// the crumb is intentionally left behind; processing it again is harmless
	sid2, err := r.CheckBreadcrumb("new-log-id-0002")
	require.NoError(t, err)
	assert.Equal(t, sid, sid2)
}

func TestBreadcrumbStalenessWindow(t *testing.T) {
	r := newTestResolver(t)
	r.Staleness = time.Millisecond
	require.NoError(t, r.DropBreadcrumb("old-log"))
	time.Sleep(5 * time.Millisecond)

	sid, err := r.CheckBreadcrumb("new-log")
	require.NoError(t, err)
	assert.Empty(t, sid, "a stale crumb must not link")
}

func TestBreadcrumbIgnoresOwnLog(t *testing.T) {
	r := newTestResolver(t)
	require.NoError(t, r.DropBreadcrumb("same-log"))

	sid, err := r.CheckBreadcrumb("same-log")
	require.NoError(t, err)
	assert.Empty(t, sid)
}

func TestSweepBreadcrumbs(t *testing.T) {
	r := newTestResolver(t)
	r.Staleness = time.Millisecond
	require.NoError(t, r.DropBreadcrumb("old-log-0001"))
	require.NoError(t, r.Records.AppendWorkPeriod("old-log-", time.Now().Add(-time.Hour)))
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, r.SweepBreadcrumbs(time.Now()))

	rec, err := r.Records.Load("old-log-")
	require.NoError(t, err)
	require.Len(t, rec.WorkPeriods, 1)
	assert.NotNil(t, rec.WorkPeriods[0].End)

	crumbs, err := r.readCrumbs()
	require.NoError(t, err)
	assert.Empty(t, crumbs, "stale crumbs are retired by the sweep")

	// sweeping again is a no-op
	require.NoError(t, r.SweepBreadcrumbs(time.Now()))
}
