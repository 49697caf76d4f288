// Package tab defines the domain types shared across the store, tracker,
// and discard evaluator: live tab snapshots, telemetry events, per-tab
// metadata, and discard batch records.
package tab

import (
	"net/url"
	"strings"
	"time"
)

// EventKind identifies a tab lifecycle transition.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventActivated   EventKind = "activated"
	EventDeactivated EventKind = "deactivated"
	EventUpdated     EventKind = "updated"
	EventRemoved     EventKind = "removed"
	EventDiscarded   EventKind = "discarded"
	EventReloaded    EventKind = "reloaded"
)

// Tab is a snapshot of a live tab as reported by the browser.
type Tab struct {
	ID          int    `json:"id"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Active      bool   `json:"active"`
	Discarded   bool   `json:"discarded"`
	WindowID    int    `json:"windowId"`
	Index       int    `json:"index"`
	OpenerTabID int    `json:"openerTabId,omitempty"`
}

// Event is one append-only telemetry record. ID is assigned by the store;
// records are never mutated after creation and are deleted only by the
// retention sweep or a full clear.
//
// All timestamps and durations are Unix milliseconds.
type Event struct {
	ID        int64     `json:"id"`
	TabID     int       `json:"tabId"`
	Kind      EventKind `json:"eventType"`
	Timestamp int64     `json:"timestamp"`

	// Optional, kind-specific fields.
	URL              string `json:"url,omitempty"`
	Title            string `json:"title,omitempty"`
	WindowID         int    `json:"windowId,omitempty"`
	Index            int    `json:"index,omitempty"`
	OpenerTabID      int    `json:"openerTabId,omitempty"`
	ActiveTime       int64  `json:"activeTime,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Manual           bool   `json:"manual,omitempty"`
	WindowClosing    bool   `json:"windowClosing,omitempty"`
	TimeSinceDiscard int64  `json:"timeSinceDiscard,omitempty"`
}

// Metadata is the running per-tab aggregate consumed by the idle check.
// Keyed by tab ID, which the browser recycles across sessions: a record may
// therefore describe a different logical tab than the one that created it.
// SessionID tags the browser session that last wrote the counter fields so
// stale counters can be reset on reuse (see Merge).
type Metadata struct {
	TabID           int    `json:"tabId"`
	URL             string `json:"url,omitempty"`
	Domain          string `json:"domain,omitempty"`
	Title           string `json:"title,omitempty"`
	WindowID        int    `json:"windowId,omitempty"`
	OpenerTabID     int    `json:"openerTabId,omitempty"`
	CreatedAt       int64  `json:"createdAt,omitempty"`
	LastUpdated     int64  `json:"lastUpdated,omitempty"`
	LastActive      int64  `json:"lastActive,omitempty"`
	ActivationCount int64  `json:"activationCount"`
	TotalActiveTime int64  `json:"totalActiveTime"`
	WasDiscarded    bool   `json:"wasDiscarded"`
	DiscardedAt     int64  `json:"discardedAt,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
}

// DiscardedTabInfo summarizes one discarded tab inside a batch record.
type DiscardedTabInfo struct {
	URL                 string `json:"url"`
	Domain              string `json:"domain"`
	Title               string `json:"title"`
	TimeSinceLastActive int64  `json:"timeSinceLastActive"`
	Reason              string `json:"reason"`
}

// Batch is one discard-pass summary record. Written only for passes that
// discarded at least one tab; pruned by the retention sweep.
type Batch struct {
	ID             int64              `json:"id"`
	Timestamp      int64              `json:"timestamp"`
	DiscardedCount int                `json:"discardedCount"`
	TotalTabs      int                `json:"totalTabs"`
	Tabs           []DiscardedTabInfo `json:"tabs"`
}

// Discard reason tags, in evaluation order.
const (
	ReasonSiteMatch = "site-match"
	ReasonIdle      = "idle"
	ReasonManual    = "manual"
)

// DomainOf extracts the lowercased hostname from a raw URL.
// Returns "" on parse failure - a missing domain never fails the caller,
// it only disables domain-dependent checks for that tab.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// privilegedSchemes are browser-internal and extension-page schemes whose
// tabs must never be discarded.
var privilegedSchemes = []string{
	"chrome:",
	"chrome-extension:",
	"edge:",
	"about:",
	"devtools:",
}

// IsPrivilegedURL reports whether the URL uses a browser-internal scheme.
func IsPrivilegedURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, scheme := range privilegedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Millis converts a time to Unix milliseconds, the unit used for every
// persisted timestamp and duration.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
