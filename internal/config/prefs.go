package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// LastRun is the discard scheduler's bookkeeping, persisted so the schedule
// survives process restarts.
type LastRun struct {
	Timestamp      int64 `yaml:"lastRun" json:"lastRun"`
	DiscardedCount int   `yaml:"lastDiscardedCount" json:"lastDiscardedCount"`
}

// prefsFile is the on-disk shape of the preferences blob.
type prefsFile struct {
	Settings Settings `yaml:"settings"`
	LastRun  LastRun  `yaml:"lastRun"`
}

// Prefs is the preferences store: policy settings plus last-run
// bookkeeping, persisted as one YAML blob. Safe for concurrent use.
type Prefs struct {
	path string

	mu       sync.RWMutex
	settings Settings
	lastRun  LastRun
}

// LoadPrefs reads preferences from path, falling back to defaults when the
// file does not exist yet. A malformed file is an error - silently resetting
// user policy would be worse than failing startup.
func LoadPrefs(path string) (*Prefs, error) {
	p := &Prefs{path: path, settings: Default()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	var f prefsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	if f.Settings.TargetSites == nil {
		f.Settings.TargetSites = map[string]bool{}
	}
	if err := f.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("preferences %s: %w", path, err)
	}

	p.settings = f.Settings
	p.lastRun = f.LastRun
	return p, nil
}

// Settings returns a copy of the current policy settings.
func (p *Prefs) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.clone()
}

// LastRun returns the persisted last-run bookkeeping.
func (p *Prefs) LastRun() LastRun {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRun
}

// Update applies fn to a copy of the settings, validates the result, and
// persists it. On any error the previous settings stay in effect.
func (p *Prefs) Update(fn func(*Settings)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.settings.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}

	prev := p.settings
	p.settings = next
	if err := p.save(); err != nil {
		p.settings = prev
		return err
	}
	return nil
}

// RecordRun persists last-run bookkeeping. Written unconditionally after
// every discard pass, including passes that discarded nothing.
func (p *Prefs) RecordRun(timestamp int64, discardedCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastRun = LastRun{Timestamp: timestamp, DiscardedCount: discardedCount}
	return p.save()
}

// save writes the blob atomically (temp file + rename). Caller holds p.mu.
func (p *Prefs) save() error {
	data, err := yaml.Marshal(prefsFile{Settings: p.settings, LastRun: p.lastRun})
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".prefs-*.yaml")
	if err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
