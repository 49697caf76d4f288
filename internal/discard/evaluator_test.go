package discard

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

var testEpoch = time.UnixMilli(1700000000000)

// fakeBrowser plays both evaluator collaborators: it serves the tab
// inventory and records discard actions.
type fakeBrowser struct {
	mu       sync.Mutex
	tabs     []tab.Tab
	queryErr error
	failIDs  map[int]bool

	discarded []int
}

func (f *fakeBrowser) QueryTabs(ctx context.Context) ([]tab.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]tab.Tab, len(f.tabs))
	copy(out, f.tabs)
	return out, nil
}

func (f *fakeBrowser) Discard(ctx context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[tabID] {
		return errors.New("tab gone")
	}
	f.discarded = append(f.discarded, tabID)
	return nil
}

func (f *fakeBrowser) discardedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.discarded))
	copy(out, f.discarded)
	return out
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPrefs(t *testing.T, fn func(*config.Settings)) *config.Prefs {
	t.Helper()
	p, err := config.LoadPrefs(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)
	if fn != nil {
		require.NoError(t, p.Update(fn))
	}
	return p
}

func TestRunPass_SiteMatchDiscardsBackgroundTab(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, func(c *config.Settings) {
		c.TargetSites = map[string]bool{"sharepoint": true}
	})
	browser := &fakeBrowser{tabs: []tab.Tab{
		{ID: 1, URL: "https://company.sharepoint.com/doc", Title: "Doc"},
		{ID: 2, URL: "https://example.com", Active: true},
	}}
	clk := tab.NewFakeClock(testEpoch)
	e := New(browser, browser, s, prefs, WithClock(clk), WithSession(func() string { return "sess-1" }))

	result, err := e.RunPass(context.Background())
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, PassResult{TotalTabs: 2, Discarded: 1}, result)
	assert.Equal(t, []int{1}, browser.discardedIDs())

	ctx := context.Background()

	events, err := s.AllEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, tab.EventDiscarded, events[0].Kind)
	assert.Equal(t, 1, events[0].TabID)
	assert.Equal(t, tab.ReasonSiteMatch, events[0].Reason)
	assert.False(t, events[0].Manual)

	meta, ok, err := s.GetMetadata(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, meta.WasDiscarded)
	assert.Equal(t, tab.Millis(testEpoch), meta.DiscardedAt)
	assert.Equal(t, "sess-1", meta.SessionID)

	batches, err := s.AllBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].DiscardedCount)
	assert.Equal(t, 2, batches[0].TotalTabs)
	require.Len(t, batches[0].Tabs, 1)
	assert.Equal(t, "company.sharepoint.com", batches[0].Tabs[0].Domain)
	assert.Equal(t, tab.ReasonSiteMatch, batches[0].Tabs[0].Reason)
}

func TestRunPass_IdleRule(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, func(c *config.Settings) {
		c.IdleTabThresholdHours = 12
	})
	ctx := context.Background()

	now := tab.Millis(testEpoch)
	// Tab 1 idle for 13h, tab 2 active 5 minutes ago, tab 3 has no telemetry.
	require.NoError(t, s.UpsertMetadata(ctx, 1, tab.MetadataPatch{
		LastActive: tab.Ptr(now - 13*3_600_000), SessionID: "sess-1",
	}))
	require.NoError(t, s.UpsertMetadata(ctx, 2, tab.MetadataPatch{
		LastActive: tab.Ptr(now - 5*60_000), SessionID: "sess-1",
	}))

	browser := &fakeBrowser{tabs: []tab.Tab{
		{ID: 1, URL: "https://a.example.com"},
		{ID: 2, URL: "https://b.example.com"},
		{ID: 3, URL: "https://c.example.com"},
	}}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	result, err := e.RunPass(ctx)
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 1, result.Discarded)
	assert.Equal(t, []int{1}, browser.discardedIDs())
}

func TestRunPass_IdleBoundaryIsExclusive(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, func(c *config.Settings) {
		c.IdleTabThresholdHours = 12
	})
	ctx := context.Background()

	// Exactly at the threshold: not yet idle.
	require.NoError(t, s.UpsertMetadata(ctx, 1, tab.MetadataPatch{
		LastActive: tab.Ptr(tab.Millis(testEpoch) - 12*3_600_000), SessionID: "s",
	}))

	browser := &fakeBrowser{tabs: []tab.Tab{{ID: 1, URL: "https://example.com"}}}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	result, err := e.RunPass(ctx)
	require.NoError(t, err)
	e.Wait()
	assert.Zero(t, result.Discarded)
}

func TestRunPass_IdleRuleDisabledByZeroThreshold(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, func(c *config.Settings) {
		c.IdleTabThresholdHours = 0
	})
	ctx := context.Background()

	require.NoError(t, s.UpsertMetadata(ctx, 1, tab.MetadataPatch{
		LastActive: tab.Ptr(int64(1)), SessionID: "s",
	}))

	browser := &fakeBrowser{tabs: []tab.Tab{{ID: 1, URL: "https://example.com"}}}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	result, err := e.RunPass(ctx)
	require.NoError(t, err)
	e.Wait()
	assert.Zero(t, result.Discarded)
}

func TestRunPass_IdleCheckSkippedWhenStoreUnavailable(t *testing.T) {
	// Store pointed at a path that can never open: Ready stays false.
	s := store.New(filepath.Join(t.TempDir(), "missing", "telemetry.db"))
	prefs := testPrefs(t, nil)

	browser := &fakeBrowser{tabs: []tab.Tab{{ID: 1, URL: "https://example.com"}}}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	result, err := e.RunPass(context.Background())
	require.NoError(t, err)
	e.Wait()

	assert.Zero(t, result.Discarded)
	// The pass itself still completes and records its run.
	assert.Equal(t, tab.Millis(testEpoch), prefs.LastRun().Timestamp)
}

func TestRunPass_FailedDiscardContinuesPass(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, func(c *config.Settings) {
		c.TargetSites = map[string]bool{"example": true}
	})
	browser := &fakeBrowser{
		tabs: []tab.Tab{
			{ID: 1, URL: "https://a.example.com"},
			{ID: 2, URL: "https://b.example.com"},
		},
		failIDs: map[int]bool{1: true},
	}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	result, err := e.RunPass(context.Background())
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 1, result.Discarded)
	assert.Equal(t, []int{2}, browser.discardedIDs())

	// The failed tab leaves no telemetry.
	events, err := s.AllEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].TabID)
}

func TestRunPass_QueryFailureAborts(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, nil)
	browser := &fakeBrowser{queryErr: errors.New("extension disconnected")}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	_, err := e.RunPass(context.Background())
	require.Error(t, err)

	// An aborted pass records nothing, including last-run bookkeeping.
	assert.Zero(t, prefs.LastRun().Timestamp)
}

func TestRunPass_EmptyPassRecordsRunButNoBatch(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, nil)
	browser := &fakeBrowser{tabs: []tab.Tab{
		{ID: 1, URL: "https://example.com", Active: true},
	}}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	result, err := e.RunPass(context.Background())
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, PassResult{TotalTabs: 1, Discarded: 0}, result)
	assert.Equal(t, tab.Millis(testEpoch), prefs.LastRun().Timestamp)
	assert.Zero(t, prefs.LastRun().DiscardedCount)

	batches, err := s.AllBatches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestDiscardAll_IgnoresPolicyButHonorsSkips(t *testing.T) {
	s := testStore(t)
	// Auto-discard itself could even be off; discard-all does not care.
	prefs := testPrefs(t, func(c *config.Settings) {
		c.AutoDiscardEnabled = false
	})
	browser := &fakeBrowser{tabs: []tab.Tab{
		{ID: 1, URL: "https://a.example.com"},
		{ID: 2, URL: "https://b.example.com", Active: true},
		{ID: 3, URL: "chrome://settings"},
		{ID: 4, URL: "https://c.example.com"},
		{ID: 5, URL: "https://d.example.com"},
	}}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	count, err := e.DiscardAll(context.Background())
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 3, count)
	assert.Equal(t, []int{1, 4, 5}, browser.discardedIDs())

	events, err := s.AllEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, tab.EventDiscarded, ev.Kind)
		assert.Equal(t, tab.ReasonManual, ev.Reason)
		assert.True(t, ev.Manual)
	}

	// Manual discards write no batch record.
	batches, err := s.AllBatches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestRunPass_Metrics(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, func(c *config.Settings) {
		c.TargetSites = map[string]bool{"example": true}
	})
	browser := &fakeBrowser{
		tabs: []tab.Tab{
			{ID: 1, URL: "https://a.example.com"},
			{ID: 2, URL: "https://b.example.com"},
		},
		failIDs: map[int]bool{2: true},
	}

	reg := prometheus.NewRegistry()
	m := InitMetrics("tabwarden", reg)
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)), WithMetrics(m))

	_, err := e.RunPass(context.Background())
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.passesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.discardedTotal.WithLabelValues(tab.ReasonSiteMatch)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.discardFailures))
}

func TestEvaluator_NilMetricsSafe(t *testing.T) {
	s := testStore(t)
	prefs := testPrefs(t, func(c *config.Settings) {
		c.TargetSites = map[string]bool{"example": true}
	})
	browser := &fakeBrowser{tabs: []tab.Tab{{ID: 1, URL: "https://example.com"}}}
	e := New(browser, browser, s, prefs, WithClock(tab.NewFakeClock(testEpoch)))

	_, err := e.RunPass(context.Background())
	require.NoError(t, err)
	e.Wait()
}
