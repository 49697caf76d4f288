// Package tracker aggregates raw tab lifecycle signals into the per-tab
// metadata records consumed by the idle check.
//
// All mutations happen in the single-writer Run loop goroutine. Browser
// callbacks enqueue signals from any goroutine; processing order is FIFO,
// so two rapid callbacks on the same tab can never interleave their
// read-modify-write cycles.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

// Tracker consumes tab lifecycle signals and maintains metadata and the
// active-tab bookkeeping used to attribute active time.
type Tracker struct {
	store *store.Store
	clock tab.Clock
	queue *signalQueue

	// sessionID is rotated by the Run loop but read from evaluator
	// goroutines through SessionID, so it carries its own lock.
	smu       sync.RWMutex
	sessionID string

	// Mutated only by the Run loop after Run has loaded persisted state.
	activeTabID int
	activeStart int64
	loaded      bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock substitutes the wall clock, for tests.
func WithClock(c tab.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// New creates a Tracker writing through st.
func New(st *store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: st,
		clock: tab.SystemClock(),
		queue: newSignalQueue(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionID returns the session tag for the current browser session.
// Valid only after Run (or LoadState) has executed.
// Thread-safe: may be called from any goroutine.
func (t *Tracker) SessionID() string {
	t.smu.RLock()
	defer t.smu.RUnlock()
	return t.sessionID
}

func (t *Tracker) setSessionID(id string) {
	t.smu.Lock()
	t.sessionID = id
	t.smu.Unlock()
}

// TabCreated records a newly created tab.
// Thread-safe: may be called from any goroutine.
func (t *Tracker) TabCreated(tb tab.Tab) bool {
	return t.queue.Enqueue(signal{Kind: signalCreated, Tab: tb})
}

// TabActivated records a tab gaining focus.
func (t *Tracker) TabActivated(tabID, windowID int) bool {
	return t.queue.Enqueue(signal{Kind: signalActivated, TabID: tabID, WindowID: windowID})
}

// TabUpdated records a navigation or load-state change. url is "" when the
// URL did not change; status is the browser's load status for the update.
func (t *Tracker) TabUpdated(tabID int, url, title, status string) bool {
	return t.queue.Enqueue(signal{Kind: signalUpdated, TabID: tabID, URL: url, Title: title, Status: status})
}

// TabRemoved records a closed tab.
func (t *Tracker) TabRemoved(tabID int, windowClosing bool) bool {
	return t.queue.Enqueue(signal{Kind: signalRemoved, TabID: tabID, WindowClosing: windowClosing})
}

// SessionStarted records a browser session boundary, after which tab IDs
// may be recycled. Like the lifecycle signals it goes through the queue,
// so the rotation happens on the Run goroutine in order with the signals
// around it.
// Thread-safe: may be called from any goroutine.
func (t *Tracker) SessionStarted() bool {
	return t.queue.Enqueue(signal{Kind: signalSessionStart})
}

// StartSession begins a fresh browser session: new session ID, no active
// tab. Call before Run only; once the loop is live, session boundaries
// arrive through SessionStarted so all state mutations stay on the Run
// goroutine.
func (t *Tracker) StartSession(ctx context.Context) error {
	t.setSessionID(uuid.NewString())
	t.activeTabID = 0
	t.activeStart = 0
	t.loaded = true
	slog.Info("tracking session started", "session_id", t.SessionID())
	return t.persistState(ctx)
}

// LoadState restores persisted tracking state, adopting the stored session
// if one exists. A daemon restart mid-browser-session must not look like a
// new session, or every tab's counters would reset spuriously.
func (t *Tracker) LoadState(ctx context.Context) error {
	st, ok, err := t.store.LoadSessionState(ctx)
	if err != nil {
		return fmt.Errorf("load tracking state: %w", err)
	}
	if !ok || st.SessionID == "" {
		return t.StartSession(ctx)
	}

	t.setSessionID(st.SessionID)
	t.activeTabID = st.ActiveTabID
	t.activeStart = st.ActiveTabStart
	t.loaded = true
	slog.Debug("tracking state restored",
		"session_id", st.SessionID,
		"active_tab", t.activeTabID,
	)
	return nil
}

// Run starts the single-writer signal loop. Blocks until the context is
// cancelled or Stop is called. Persisted state is loaded before any signal
// is processed.
//
// Must be called from exactly one goroutine. Per-signal failures are logged
// and processing continues: telemetry is best-effort.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.loaded {
		if err := t.LoadState(ctx); err != nil {
			// The store may simply not be reachable yet. Start an
			// unpersisted session rather than refusing to track.
			slog.Warn("tracking state unavailable, starting fresh session", "error", err)
			t.setSessionID(uuid.NewString())
			t.loaded = true
		}
	}

	slog.Info("tracker starting", "session_id", t.SessionID())

	for {
		sig, ok := t.queue.TryDequeue()
		if ok {
			t.process(ctx, sig)
			continue
		}

		if t.queue.Closed() {
			slog.Info("tracker stopping: queue closed")
			return nil
		}

		select {
		case <-ctx.Done():
			t.queue.Close()
			slog.Info("tracker stopping: context cancelled")
			return ctx.Err()

		case <-t.queue.Wait():
			// The wake token coalesces enqueues and may be stale: a
			// signal enqueued while the loop was busy leaves a token
			// behind even after the signal is drained. Loop back; only
			// a closed and drained queue ends the loop.
		}
	}
}

// Stop closes the signal queue, causing Run to drain and return.
func (t *Tracker) Stop() {
	t.queue.Close()
}

// QueueLen returns the number of pending signals. For monitoring and tests.
func (t *Tracker) QueueLen() int {
	return t.queue.Len()
}

func (t *Tracker) process(ctx context.Context, sig signal) {
	switch sig.Kind {
	case signalCreated:
		t.handleCreated(ctx, sig.Tab)
	case signalActivated:
		t.handleActivated(ctx, sig.TabID, sig.WindowID)
	case signalUpdated:
		t.handleUpdated(ctx, sig.TabID, sig.URL, sig.Title, sig.Status)
	case signalRemoved:
		t.handleRemoved(ctx, sig.TabID, sig.WindowClosing)
	case signalSessionStart:
		t.handleSessionStart(ctx)
	default:
		slog.Error("unknown tracker signal", "kind", sig.Kind)
	}
}

func (t *Tracker) handleSessionStart(ctx context.Context) {
	t.setSessionID(uuid.NewString())
	t.activeTabID = 0
	t.activeStart = 0
	slog.Info("tracking session started", "session_id", t.SessionID())
	if err := t.persistState(ctx); err != nil {
		slog.Warn("tracking state save failed", "error", err)
	}
}

func (t *Tracker) handleCreated(ctx context.Context, tb tab.Tab) {
	now := tab.Millis(t.clock.Now())

	patch := tab.MetadataPatch{
		URL:         tab.Ptr(tb.URL),
		Title:       tab.Ptr(tb.Title),
		WindowID:    tab.Ptr(tb.WindowID),
		OpenerTabID: tab.Ptr(tb.OpenerTabID),
		CreatedAt:   tab.Ptr(now),
		LastUpdated: tab.Ptr(now),
		SessionID:   t.SessionID(),
	}
	// Parse failure just omits the domain; the record is still written.
	if domain := tab.DomainOf(tb.URL); domain != "" {
		patch.Domain = tab.Ptr(domain)
	}

	if err := t.store.UpsertMetadata(ctx, tb.ID, patch); err != nil {
		slog.Warn("metadata write failed", "tab_id", tb.ID, "error", err)
	}

	t.store.AppendEvent(ctx, tab.Event{
		TabID:       tb.ID,
		Kind:        tab.EventCreated,
		Timestamp:   now,
		URL:         tb.URL,
		Title:       tb.Title,
		WindowID:    tb.WindowID,
		Index:       tb.Index,
		OpenerTabID: tb.OpenerTabID,
	})
}

func (t *Tracker) handleActivated(ctx context.Context, tabID, windowID int) {
	now := tab.Millis(t.clock.Now())

	// Close out the previous tab's active interval first so its active
	// time lands before the new activation in the event log.
	if t.activeTabID != 0 && t.activeTabID != tabID && t.activeStart > 0 {
		elapsed := now - t.activeStart
		if elapsed < 0 {
			elapsed = 0
		}

		t.store.AppendEvent(ctx, tab.Event{
			TabID:      t.activeTabID,
			Kind:       tab.EventDeactivated,
			Timestamp:  now,
			ActiveTime: elapsed,
		})

		if err := t.store.UpsertMetadata(ctx, t.activeTabID, tab.MetadataPatch{
			AddActiveTime: elapsed,
			LastUpdated:   tab.Ptr(now),
			SessionID:     t.SessionID(),
		}); err != nil {
			slog.Warn("metadata write failed", "tab_id", t.activeTabID, "error", err)
		}
	}

	t.activeTabID = tabID
	t.activeStart = now

	t.store.AppendEvent(ctx, tab.Event{
		TabID:     tabID,
		Kind:      tab.EventActivated,
		Timestamp: now,
		WindowID:  windowID,
	})

	if err := t.store.UpsertMetadata(ctx, tabID, tab.MetadataPatch{
		WindowID:       tab.Ptr(windowID),
		LastActive:     tab.Ptr(now),
		LastUpdated:    tab.Ptr(now),
		AddActivations: 1,
		SessionID:      t.SessionID(),
	}); err != nil {
		slog.Warn("metadata write failed", "tab_id", tabID, "error", err)
	}

	if err := t.persistState(ctx); err != nil {
		slog.Warn("tracking state save failed", "error", err)
	}
}

func (t *Tracker) handleUpdated(ctx context.Context, tabID int, url, title, status string) {
	now := tab.Millis(t.clock.Now())

	if url != "" {
		// A navigation replaces the descriptive fields wholesale; a stale
		// title from the previous page must not survive the URL change.
		patch := tab.MetadataPatch{
			URL:         tab.Ptr(url),
			Domain:      tab.Ptr(tab.DomainOf(url)),
			Title:       tab.Ptr(title),
			LastUpdated: tab.Ptr(now),
			SessionID:   t.SessionID(),
		}
		if err := t.store.UpsertMetadata(ctx, tabID, patch); err != nil {
			slog.Warn("metadata write failed", "tab_id", tabID, "error", err)
		}

		t.store.AppendEvent(ctx, tab.Event{
			TabID:     tabID,
			Kind:      tab.EventUpdated,
			Timestamp: now,
			URL:       url,
			Title:     title,
		})
	}

	// A discarded tab entering a loading state is being reloaded by the
	// user: record the round trip and clear the discard flags.
	if status == "loading" {
		meta, ok, err := t.store.GetMetadata(ctx, tabID)
		if err != nil {
			slog.Warn("metadata read failed", "tab_id", tabID, "error", err)
			return
		}
		if !ok || !meta.WasDiscarded {
			return
		}

		var sinceDiscard int64
		if meta.DiscardedAt > 0 {
			sinceDiscard = now - meta.DiscardedAt
		}

		t.store.AppendEvent(ctx, tab.Event{
			TabID:            tabID,
			Kind:             tab.EventReloaded,
			Timestamp:        now,
			TimeSinceDiscard: sinceDiscard,
		})

		if err := t.store.UpsertMetadata(ctx, tabID, tab.MetadataPatch{
			WasDiscarded: tab.Ptr(false),
			LastUpdated:  tab.Ptr(now),
			SessionID:    t.SessionID(),
		}); err != nil {
			slog.Warn("metadata write failed", "tab_id", tabID, "error", err)
		}
	}
}

func (t *Tracker) handleRemoved(ctx context.Context, tabID int, windowClosing bool) {
	now := tab.Millis(t.clock.Now())

	t.store.AppendEvent(ctx, tab.Event{
		TabID:         tabID,
		Kind:          tab.EventRemoved,
		Timestamp:     now,
		WindowClosing: windowClosing,
	})

	// Metadata is not deleted on removal: the session-reset rule handles
	// tab ID reuse, and history queries still want the record.
	if tabID == t.activeTabID {
		t.activeTabID = 0
		t.activeStart = 0
		if err := t.persistState(ctx); err != nil {
			slog.Warn("tracking state save failed", "error", err)
		}
	}
}

func (t *Tracker) persistState(ctx context.Context) error {
	return t.store.SaveSessionState(ctx, store.SessionState{
		SessionID:      t.SessionID(),
		ActiveTabID:    t.activeTabID,
		ActiveTabStart: t.activeStart,
	})
}
