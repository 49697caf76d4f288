package channel

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/discard"
	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

var testEpoch = time.UnixMilli(1700000000000)

type staticBrowser struct {
	tabs      []tab.Tab
	discarded []int
}

func (b *staticBrowser) QueryTabs(ctx context.Context) ([]tab.Tab, error) {
	return b.tabs, nil
}

func (b *staticBrowser) Discard(ctx context.Context, tabID int) error {
	b.discarded = append(b.discarded, tabID)
	return nil
}

type actionsFixture struct {
	actions *Actions
	prefs   *config.Prefs
	store   *store.Store
	browser *staticBrowser
	eval    *discard.Evaluator
}

func newActionsFixture(t *testing.T) *actionsFixture {
	t.Helper()

	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	prefs, err := config.LoadPrefs(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)

	browser := &staticBrowser{}
	clk := tab.NewFakeClock(testEpoch)
	eval := discard.New(browser, browser, s, prefs, discard.WithClock(clk))

	return &actionsFixture{
		actions: NewActions(prefs, s, eval, clk),
		prefs:   prefs,
		store:   s,
		browser: browser,
		eval:    eval,
	}
}

func TestHandle_ToggleAutoDiscard(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	_, err := f.actions.Handle(ctx, ActionToggleAutoDiscard, json.RawMessage(`{"enabled":false}`))
	require.NoError(t, err)
	assert.False(t, f.prefs.Settings().AutoDiscardEnabled)

	_, err = f.actions.Handle(ctx, ActionToggleAutoDiscard, json.RawMessage(`{"enabled":true}`))
	require.NoError(t, err)
	assert.True(t, f.prefs.Settings().AutoDiscardEnabled)
}

func TestHandle_UpdateTargetSites(t *testing.T) {
	f := newActionsFixture(t)

	_, err := f.actions.Handle(context.Background(), ActionUpdateTargetSites,
		json.RawMessage(`{"sites":{"sharepoint":true,"jira":false}}`))
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"sharepoint": true, "jira": false}, f.prefs.Settings().TargetSites)
}

func TestHandle_UpdateTargetSites_NullSitesMeansEmpty(t *testing.T) {
	f := newActionsFixture(t)
	require.NoError(t, f.prefs.Update(func(s *config.Settings) {
		s.TargetSites = map[string]bool{"sharepoint": true}
	}))

	_, err := f.actions.Handle(context.Background(), ActionUpdateTargetSites, json.RawMessage(`{"sites":null}`))
	require.NoError(t, err)
	assert.Empty(t, f.prefs.Settings().TargetSites)
}

func TestHandle_UpdateInterval(t *testing.T) {
	f := newActionsFixture(t)

	var rescheduled int
	f.actions.Reschedule = func(minutes int) { rescheduled = minutes }

	_, err := f.actions.Handle(context.Background(), ActionUpdateInterval, json.RawMessage(`{"minutes":5}`))
	require.NoError(t, err)
	assert.Equal(t, 5, f.prefs.Settings().DiscardIntervalMinutes)
	assert.Equal(t, 5, rescheduled)
}

func TestHandle_UpdateInterval_InvalidRejected(t *testing.T) {
	f := newActionsFixture(t)

	f.actions.Reschedule = func(int) { t.Fatal("rejected interval must not reschedule") }

	_, err := f.actions.Handle(context.Background(), ActionUpdateInterval, json.RawMessage(`{"minutes":7}`))
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 15, f.prefs.Settings().DiscardIntervalMinutes)
}

func TestHandle_UpdateIdleThreshold(t *testing.T) {
	f := newActionsFixture(t)

	_, err := f.actions.Handle(context.Background(), ActionUpdateIdleThreshold, json.RawMessage(`{"hours":48}`))
	require.NoError(t, err)
	assert.Equal(t, 48, f.prefs.Settings().IdleTabThresholdHours)

	_, err = f.actions.Handle(context.Background(), ActionUpdateIdleThreshold, json.RawMessage(`{"hours":-1}`))
	assert.Error(t, err)
}

func TestHandle_DiscardAll(t *testing.T) {
	f := newActionsFixture(t)
	f.browser.tabs = []tab.Tab{
		{ID: 1, URL: "https://a.example.com"},
		{ID: 2, URL: "https://b.example.com", Active: true},
		{ID: 3, URL: "https://c.example.com"},
	}

	payload, err := f.actions.Handle(context.Background(), ActionDiscardAll, nil)
	require.NoError(t, err)
	f.eval.Wait()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"discarded":2}`, string(data))
	assert.Equal(t, []int{1, 3}, f.browser.discarded)
}

func TestHandle_ExportAllData(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	f.store.AppendEvent(ctx, tab.Event{TabID: 1, Kind: tab.EventCreated, Timestamp: 1})

	payload, err := f.actions.Handle(ctx, ActionExportAllData, nil)
	require.NoError(t, err)

	export, ok := payload.(store.Export)
	require.True(t, ok)
	assert.Equal(t, tab.Millis(testEpoch), export.ExportedAt)
	assert.Len(t, export.Events, 1)
}

func TestHandle_ClearAllData(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	f.store.AppendEvent(ctx, tab.Event{TabID: 1, Kind: tab.EventCreated, Timestamp: 1})
	require.NoError(t, f.store.UpsertMetadata(ctx, 1, tab.MetadataPatch{SessionID: "s"}))

	_, err := f.actions.Handle(ctx, ActionClearAllData, nil)
	require.NoError(t, err)

	counts, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Events)
	assert.Zero(t, counts.Metadata)
}

func TestHandle_GetStats(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	f.store.AppendEvent(ctx, tab.Event{TabID: 1, Kind: tab.EventCreated, Timestamp: 1})
	require.NoError(t, f.prefs.RecordRun(1700000000000, 2))

	payload, err := f.actions.Handle(ctx, ActionGetStats, nil)
	require.NoError(t, err)

	stats, ok := payload.(Stats)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Counts.Events)
	assert.Equal(t, 15, stats.Settings.DiscardIntervalMinutes)
	assert.Equal(t, config.LastRun{Timestamp: 1700000000000, DiscardedCount: 2}, stats.LastRun)
}

func TestHandle_UnknownAction(t *testing.T) {
	f := newActionsFixture(t)
	_, err := f.actions.Handle(context.Background(), "frobnicate", nil)
	assert.ErrorContains(t, err, "unknown action")
}

func TestHandle_MissingPayload(t *testing.T) {
	f := newActionsFixture(t)
	_, err := f.actions.Handle(context.Background(), ActionToggleAutoDiscard, nil)
	assert.ErrorContains(t, err, "missing payload")
}
