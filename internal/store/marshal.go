package store

import (
	"encoding/json"
	"fmt"

	"github.com/tabwarden/tabwarden/internal/tab"
)

// eventPayload carries the kind-specific optional fields of an event row.
// The fixed columns (id, tab_id, kind, ts) live in the table proper so they
// stay indexable; everything else is an open set serialized as JSON.
type eventPayload struct {
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

func marshalEventPayload(ev tab.Event) (string, error) {
	p := eventPayload{
		URL:              ev.URL,
		Title:            ev.Title,
		WindowID:         ev.WindowID,
		Index:            ev.Index,
		OpenerTabID:      ev.OpenerTabID,
		ActiveTime:       ev.ActiveTime,
		Reason:           ev.Reason,
		Manual:           ev.Manual,
		WindowClosing:    ev.WindowClosing,
		TimeSinceDiscard: ev.TimeSinceDiscard,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	return string(data), nil
}

func unmarshalEventPayload(data string, ev *tab.Event) error {
	var p eventPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return fmt.Errorf("unmarshal event payload: %w", err)
	}
	ev.URL = p.URL
	ev.Title = p.Title
	ev.WindowID = p.WindowID
	ev.Index = p.Index
	ev.OpenerTabID = p.OpenerTabID
	ev.ActiveTime = p.ActiveTime
	ev.Reason = p.Reason
	ev.Manual = p.Manual
	ev.WindowClosing = p.WindowClosing
	ev.TimeSinceDiscard = p.TimeSinceDiscard
	return nil
}

func marshalBatchTabs(tabs []tab.DiscardedTabInfo) (string, error) {
	if tabs == nil {
		tabs = []tab.DiscardedTabInfo{}
	}
	data, err := json.Marshal(tabs)
	if err != nil {
		return "", fmt.Errorf("marshal batch tabs: %w", err)
	}
	return string(data), nil
}

func unmarshalBatchTabs(data string) ([]tab.DiscardedTabInfo, error) {
	var tabs []tab.DiscardedTabInfo
	if err := json.Unmarshal([]byte(data), &tabs); err != nil {
		return nil, fmt.Errorf("unmarshal batch tabs: %w", err)
	}
	if tabs == nil {
		tabs = []tab.DiscardedTabInfo{}
	}
	return tabs, nil
}
