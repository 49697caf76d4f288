package tab

// MetadataPatch is a partial metadata write. Field classes are explicit
// because the merge rule is a correctness-critical domain rule, not a
// generic deep-merge:
//
//   - overwrite fields (URL, Domain, Title, WindowID, OpenerTabID,
//     LastUpdated, LastActive): nil means "leave alone", non-nil replaces
//     unconditionally, including across sessions.
//   - set-once fields (CreatedAt): applied only when the record has none.
//   - counter fields (AddActivations, AddActiveTime): deltas that accumulate
//     under same-session writes and restart from zero after a session change.
//   - discard flags (WasDiscarded, DiscardedAt): paired overwrite; a non-nil
//     WasDiscarded=false also clears DiscardedAt.
type MetadataPatch struct {
	URL         *string
	Domain      *string
	Title       *string
	WindowID    *int
	OpenerTabID *int

	CreatedAt   *int64
	LastUpdated *int64
	LastActive  *int64

	AddActivations int64
	AddActiveTime  int64

	WasDiscarded *bool
	DiscardedAt  *int64

	// SessionID tags the session issuing this write. Required.
	SessionID string
}

// Merge applies a patch to an existing metadata record and returns the
// result. A zero-value existing record (TabID unset) is treated as absent.
//
// Tab-ID-reuse invariant: when the patch's session differs from the session
// that last wrote the record's counters, the counters are reset to zero
// before the patch's deltas apply. Everything else merges normally - the
// descriptive fields describe whatever tab currently holds the ID.
func Merge(existing Metadata, tabID int, p MetadataPatch) Metadata {
	m := existing
	m.TabID = tabID

	if m.SessionID != "" && m.SessionID != p.SessionID {
		m.ActivationCount = 0
		m.TotalActiveTime = 0
	}
	m.SessionID = p.SessionID

	if p.URL != nil {
		m.URL = *p.URL
	}
	if p.Domain != nil {
		m.Domain = *p.Domain
	}
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.WindowID != nil {
		m.WindowID = *p.WindowID
	}
	if p.OpenerTabID != nil {
		m.OpenerTabID = *p.OpenerTabID
	}

	if p.CreatedAt != nil && m.CreatedAt == 0 {
		m.CreatedAt = *p.CreatedAt
	}
	if p.LastUpdated != nil {
		m.LastUpdated = *p.LastUpdated
	}
	if p.LastActive != nil {
		m.LastActive = *p.LastActive
	}

	m.ActivationCount += p.AddActivations
	m.TotalActiveTime += p.AddActiveTime

	if p.WasDiscarded != nil {
		m.WasDiscarded = *p.WasDiscarded
		if !*p.WasDiscarded {
			m.DiscardedAt = 0
		}
	}
	if p.DiscardedAt != nil {
		m.DiscardedAt = *p.DiscardedAt
	}

	return m
}

// Ptr returns a pointer to v. Helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
