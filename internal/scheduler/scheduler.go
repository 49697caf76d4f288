// Package scheduler drives the periodic discard pass and the daily
// retention sweep.
//
// The schedule survives restarts through the persisted last-run
// bookkeeping: on start, a pass that is already overdue runs near-
// immediately instead of waiting out a full interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/tab"
)

// Scheduler owns the cron instance and the pass/sweep triggers.
type Scheduler struct {
	cron  *cron.Cron
	prefs *config.Prefs
	clock tab.Clock

	pass  func(context.Context)
	sweep func(context.Context)

	mu        sync.Mutex
	passEntry cron.EntryID
	ctx       context.Context
}

// New creates a Scheduler. pass and sweep are invoked from cron goroutines;
// both must tolerate overlapping invocations.
func New(prefs *config.Prefs, clock tab.Clock, pass, sweep func(context.Context)) *Scheduler {
	if clock == nil {
		clock = tab.SystemClock()
	}
	return &Scheduler{
		cron:  cron.New(),
		prefs: prefs,
		clock: clock,
		pass:  pass,
		sweep: sweep,
	}
}

// Start schedules the discard pass at the configured interval and the
// retention sweep daily, then starts the cron loop. If the last persisted
// run is at least one interval old (or absent), a catch-up pass fires
// near-immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	cfg := s.prefs.Settings()

	if err := s.schedulePass(cfg.DiscardIntervalMinutes); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc("@daily", func() { s.runSweep() }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron.Start()
	slog.Info("scheduler started",
		"discard_interval_minutes", cfg.DiscardIntervalMinutes,
	)

	if s.passDue(cfg.DiscardIntervalMinutes) {
		// Near-immediate, not synchronous: Start should not block on a
		// full pass.
		go s.runPass()
	}

	return nil
}

// Reschedule replaces the discard pass entry with a new interval.
// Called after the interval setting changes.
func (s *Scheduler) Reschedule(minutes int) {
	s.mu.Lock()
	if s.passEntry != 0 {
		s.cron.Remove(s.passEntry)
		s.passEntry = 0
	}
	s.mu.Unlock()

	if err := s.schedulePass(minutes); err != nil {
		slog.Error("reschedule failed", "minutes", minutes, "error", err)
		return
	}
	slog.Info("discard pass rescheduled", "discard_interval_minutes", minutes)
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) schedulePass(minutes int) error {
	spec := fmt.Sprintf("@every %dm", minutes)
	entry, err := s.cron.AddFunc(spec, func() { s.runPass() })
	if err != nil {
		return fmt.Errorf("schedule pass %q: %w", spec, err)
	}

	s.mu.Lock()
	s.passEntry = entry
	s.mu.Unlock()
	return nil
}

// passDue reports whether a catch-up pass should fire on start.
func (s *Scheduler) passDue(intervalMinutes int) bool {
	last := s.prefs.LastRun()
	if last.Timestamp == 0 {
		return true
	}
	elapsed := tab.Millis(s.clock.Now()) - last.Timestamp
	return elapsed >= int64(intervalMinutes)*int64(time.Minute/time.Millisecond)
}

func (s *Scheduler) runPass() {
	if !s.prefs.Settings().AutoDiscardEnabled {
		slog.Debug("auto discard disabled, skipping pass")
		return
	}
	s.pass(s.runCtx())
}

func (s *Scheduler) runSweep() {
	s.sweep(s.runCtx())
}

func (s *Scheduler) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
