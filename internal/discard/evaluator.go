// Package discard implements the eligibility evaluator: given the live tab
// list, the policy settings, and the telemetry store, decide which tabs to
// unload and record what happened.
//
// The evaluator carries no state of its own between passes; everything it
// needs lives in the settings and the store. Telemetry writes are spawned
// in the background and never awaited by the discard path.
package discard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

// TabSource is the tab inventory collaborator.
type TabSource interface {
	QueryTabs(ctx context.Context) ([]tab.Tab, error)
}

// Discarder is the tab discard action collaborator.
type Discarder interface {
	Discard(ctx context.Context, tabID int) error
}

// Evaluator runs discard passes and the manual discard-all action.
type Evaluator struct {
	tabs      TabSource
	discarder Discarder
	store     *store.Store
	prefs     *config.Prefs
	clock     tab.Clock
	metrics   *Metrics
	session   func() string

	// Background telemetry writes in flight. Wait is for shutdown and
	// tests only, never the discard path.
	wg sync.WaitGroup

	idleSkipOnce sync.Once
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock substitutes the wall clock, for tests.
func WithClock(c tab.Clock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// WithMetrics attaches prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithSession supplies the current session ID for metadata writes,
// typically Tracker.SessionID.
func WithSession(fn func() string) Option {
	return func(e *Evaluator) { e.session = fn }
}

// New creates an Evaluator.
func New(tabs TabSource, discarder Discarder, st *store.Store, prefs *config.Prefs, opts ...Option) *Evaluator {
	e := &Evaluator{
		tabs:      tabs,
		discarder: discarder,
		store:     st,
		prefs:     prefs,
		clock:     tab.SystemClock(),
		session:   func() string { return "" },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PassResult summarizes one discard pass.
type PassResult struct {
	TotalTabs int
	Discarded int
}

// RunPass evaluates every live tab against the current policy, discards the
// eligible ones, and records the results. Per-tab discard failures are
// logged and the pass continues; only a failed tab inventory aborts.
//
// Last-run bookkeeping is persisted unconditionally, including for passes
// that discarded nothing.
func (e *Evaluator) RunPass(ctx context.Context) (PassResult, error) {
	started := e.clock.Now()
	cfg := e.prefs.Settings()

	tabs, err := e.tabs.QueryTabs(ctx)
	if err != nil {
		return PassResult{}, err
	}

	var infos []tab.DiscardedTabInfo
	for _, t := range tabs {
		if skip(t) {
			continue
		}

		reason, eligible := e.eligible(ctx, t, cfg)
		if !eligible {
			continue
		}

		if err := e.discarder.Discard(ctx, t.ID); err != nil {
			slog.Warn("discard failed", "tab_id", t.ID, "url", t.URL, "error", err)
			e.metrics.observeFailure()
			continue
		}

		slog.Info("tab discarded", "tab_id", t.ID, "url", t.URL, "reason", reason)
		e.metrics.observeDiscard(reason)
		infos = append(infos, e.recordDiscard(ctx, t, reason, false))
	}

	now := tab.Millis(e.clock.Now())
	result := PassResult{TotalTabs: len(tabs), Discarded: len(infos)}

	if len(infos) > 0 {
		batch := tab.Batch{
			Timestamp:      now,
			DiscardedCount: len(infos),
			TotalTabs:      len(tabs),
			Tabs:           infos,
		}
		e.spawn(func() { e.store.AppendBatch(context.WithoutCancel(ctx), batch) })
	}

	if err := e.prefs.RecordRun(now, len(infos)); err != nil {
		slog.Warn("last-run bookkeeping failed", "error", err)
	}

	e.metrics.observePass(e.clock.Now().Sub(started).Seconds())
	return result, nil
}

// DiscardAll unloads every tab surviving the skip predicate, ignoring the
// eligibility rules. Returns the number of tabs discarded.
func (e *Evaluator) DiscardAll(ctx context.Context) (int, error) {
	tabs, err := e.tabs.QueryTabs(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range tabs {
		if skip(t) {
			continue
		}

		if err := e.discarder.Discard(ctx, t.ID); err != nil {
			slog.Warn("discard failed", "tab_id", t.ID, "url", t.URL, "error", err)
			e.metrics.observeFailure()
			continue
		}

		count++
		e.metrics.observeDiscard(tab.ReasonManual)
		e.recordDiscard(ctx, t, tab.ReasonManual, true)
	}

	slog.Info("manual discard-all complete", "discarded", count, "total", len(tabs))
	return count, nil
}

// eligible applies the discard rules in fixed order; the first match wins
// and supplies the reason tag.
func (e *Evaluator) eligible(ctx context.Context, t tab.Tab, cfg config.Settings) (string, bool) {
	if matchSite(tab.DomainOf(t.URL), cfg.TargetSites) {
		return tab.ReasonSiteMatch, true
	}
	if e.isIdle(ctx, t.ID, cfg) {
		return tab.ReasonIdle, true
	}
	return "", false
}

// isIdle checks the idle-timeout rule. Telemetry readiness is a hard
// precondition: without it the rule is skipped with a one-time log rather
// than queued or retried. A tab with no recorded activity is never idle.
func (e *Evaluator) isIdle(ctx context.Context, tabID int, cfg config.Settings) bool {
	if cfg.IdleTabThresholdHours <= 0 {
		return false
	}
	if !e.store.Ready() {
		e.idleSkipOnce.Do(func() {
			slog.Warn("telemetry store not ready, skipping idle checks")
		})
		return false
	}

	meta, ok, err := e.store.GetMetadata(ctx, tabID)
	if err != nil {
		slog.Warn("metadata read failed", "tab_id", tabID, "error", err)
		return false
	}
	if !ok || meta.LastActive == 0 {
		return false
	}

	threshold := int64(cfg.IdleTabThresholdHours) * 3_600_000
	return tab.Millis(e.clock.Now())-meta.LastActive > threshold
}

// recordDiscard issues the causal telemetry chain for one discarded tab -
// discarded event, then metadata flags - in order on a background goroutine,
// and returns the batch entry for the pass summary.
func (e *Evaluator) recordDiscard(ctx context.Context, t tab.Tab, reason string, manual bool) tab.DiscardedTabInfo {
	now := tab.Millis(e.clock.Now())
	domain := tab.DomainOf(t.URL)
	sessionID := e.session()

	var sinceActive int64
	if meta, ok, _ := e.store.GetMetadata(ctx, t.ID); ok && meta.LastActive > 0 {
		sinceActive = now - meta.LastActive
	}

	ev := tab.Event{
		TabID:     t.ID,
		Kind:      tab.EventDiscarded,
		Timestamp: now,
		URL:       t.URL,
		Title:     t.Title,
		Reason:    reason,
		Manual:    manual,
	}
	patch := tab.MetadataPatch{
		WasDiscarded: tab.Ptr(true),
		DiscardedAt:  tab.Ptr(now),
		SessionID:    sessionID,
	}

	bg := context.WithoutCancel(ctx)
	e.spawn(func() {
		e.store.AppendEvent(bg, ev)
		if err := e.store.UpsertMetadata(bg, t.ID, patch); err != nil {
			slog.Warn("metadata write failed", "tab_id", t.ID, "error", err)
		}
	})

	return tab.DiscardedTabInfo{
		URL:                 t.URL,
		Domain:              domain,
		Title:               t.Title,
		TimeSinceLastActive: sinceActive,
		Reason:              reason,
	}
}

// spawn runs a background telemetry write tracked for Wait.
func (e *Evaluator) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Wait blocks until in-flight background telemetry writes finish.
// For shutdown and tests.
func (e *Evaluator) Wait() {
	e.wg.Wait()
}
