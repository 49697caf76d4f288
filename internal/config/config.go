// Package config holds the discard policy settings and their file-backed
// preferences store, including last-run bookkeeping for the scheduler.
package config

import (
	"fmt"
)

// Allowed discard pass intervals, in minutes.
var validIntervals = []int{5, 10, 15, 30}

// Bounds for the remaining settings.
const (
	MaxIdleThresholdHours = 720
	MinRetentionDays      = 1
	MaxRetentionDays      = 365
)

// Settings is the discard policy configuration. Consumed read-only by the
// evaluator and sweeper; mutated only through preference-update actions.
type Settings struct {
	// AutoDiscardEnabled gates the periodic discard pass. Manual
	// discard-all works regardless.
	AutoDiscardEnabled bool `yaml:"autoDiscard" json:"autoDiscardEnabled"`

	// TargetSites maps plain substring patterns (matched case-insensitively
	// against tab hostnames) to an enabled flag.
	TargetSites map[string]bool `yaml:"targetSites" json:"targetSites"`

	// DiscardIntervalMinutes is the discard pass period. One of 5, 10, 15, 30.
	DiscardIntervalMinutes int `yaml:"discardInterval" json:"discardInterval"`

	// IdleTabThresholdHours is the inactivity window after which a tab
	// becomes idle-eligible. 0 disables the idle rule entirely.
	IdleTabThresholdHours int `yaml:"idleTabThreshold" json:"idleTabThreshold"`

	// DataRetentionDays is how long event and batch records are kept.
	DataRetentionDays int `yaml:"dataRetentionDays" json:"dataRetentionDays"`
}

// Default returns the settings used until the user changes anything.
func Default() Settings {
	return Settings{
		AutoDiscardEnabled:     true,
		TargetSites:            map[string]bool{},
		DiscardIntervalMinutes: 15,
		IdleTabThresholdHours:  12,
		DataRetentionDays:      30,
	}
}

// ValidationError describes a rejected settings field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks all settings bounds.
func (s Settings) Validate() error {
	if !isValidInterval(s.DiscardIntervalMinutes) {
		return &ValidationError{
			Field:   "discardInterval",
			Message: fmt.Sprintf("%d is not one of %v", s.DiscardIntervalMinutes, validIntervals),
		}
	}
	if s.IdleTabThresholdHours < 0 || s.IdleTabThresholdHours > MaxIdleThresholdHours {
		return &ValidationError{
			Field:   "idleTabThreshold",
			Message: fmt.Sprintf("%d is outside [0, %d]", s.IdleTabThresholdHours, MaxIdleThresholdHours),
		}
	}
	if s.DataRetentionDays < MinRetentionDays || s.DataRetentionDays > MaxRetentionDays {
		return &ValidationError{
			Field:   "dataRetentionDays",
			Message: fmt.Sprintf("%d is outside [%d, %d]", s.DataRetentionDays, MinRetentionDays, MaxRetentionDays),
		}
	}
	return nil
}

func isValidInterval(minutes int) bool {
	for _, v := range validIntervals {
		if v == minutes {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers can't mutate shared state through
// the TargetSites map.
func (s Settings) clone() Settings {
	out := s
	out.TargetSites = make(map[string]bool, len(s.TargetSites))
	for k, v := range s.TargetSites {
		out.TargetSites[k] = v
	}
	return out
}
