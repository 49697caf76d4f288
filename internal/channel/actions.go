package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/discard"
	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

// UI actions exposed over the channel.
const (
	ActionToggleAutoDiscard   = "toggle-auto-discard"
	ActionUpdateTargetSites   = "update-target-sites"
	ActionUpdateInterval      = "update-interval"
	ActionUpdateIdleThreshold = "update-idle-threshold"
	ActionDiscardAll          = "discard-all"
	ActionExportAllData       = "export-all-data"
	ActionClearAllData        = "clear-all-data"
	ActionGetStats            = "get-stats"
)

// Actions dispatches UI requests to the evaluator, store, and preferences.
type Actions struct {
	prefs     *config.Prefs
	store     *store.Store
	evaluator *discard.Evaluator
	clock     tab.Clock

	// Reschedule is invoked after an interval change so the scheduler can
	// pick up the new period. Optional.
	Reschedule func(minutes int)
}

// NewActions creates the action dispatcher.
func NewActions(prefs *config.Prefs, st *store.Store, ev *discard.Evaluator, clock tab.Clock) *Actions {
	if clock == nil {
		clock = tab.SystemClock()
	}
	return &Actions{prefs: prefs, store: st, evaluator: ev, clock: clock}
}

// Stats is the get-stats payload.
type Stats struct {
	Counts   store.Counts    `json:"counts"`
	Settings config.Settings `json:"settings"`
	LastRun  config.LastRun  `json:"lastRun"`
}

// Handle implements channel.Handler.
func (a *Actions) Handle(ctx context.Context, action string, payload json.RawMessage) (any, error) {
	switch action {
	case ActionToggleAutoDiscard:
		var p struct {
			Enabled bool `json:"enabled"`
		}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return nil, a.prefs.Update(func(s *config.Settings) {
			s.AutoDiscardEnabled = p.Enabled
		})

	case ActionUpdateTargetSites:
		var p struct {
			Sites map[string]bool `json:"sites"`
		}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Sites == nil {
			p.Sites = map[string]bool{}
		}
		return nil, a.prefs.Update(func(s *config.Settings) {
			s.TargetSites = p.Sites
		})

	case ActionUpdateInterval:
		var p struct {
			Minutes int `json:"minutes"`
		}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := a.prefs.Update(func(s *config.Settings) {
			s.DiscardIntervalMinutes = p.Minutes
		}); err != nil {
			return nil, err
		}
		if a.Reschedule != nil {
			a.Reschedule(p.Minutes)
		}
		return nil, nil

	case ActionUpdateIdleThreshold:
		var p struct {
			Hours int `json:"hours"`
		}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return nil, a.prefs.Update(func(s *config.Settings) {
			s.IdleTabThresholdHours = p.Hours
		})

	case ActionDiscardAll:
		count, err := a.evaluator.DiscardAll(ctx)
		if err != nil {
			return nil, err
		}
		return struct {
			Discarded int `json:"discarded"`
		}{count}, nil

	case ActionExportAllData:
		return a.store.ExportAll(ctx, tab.Millis(a.clock.Now()))

	case ActionClearAllData:
		return nil, a.store.ClearAll(ctx)

	case ActionGetStats:
		counts, err := a.store.Count(ctx)
		if err != nil {
			return nil, err
		}
		return Stats{
			Counts:   counts,
			Settings: a.prefs.Settings(),
			LastRun:  a.prefs.LastRun(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

func decode(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}
