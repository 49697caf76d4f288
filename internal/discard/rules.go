package discard

import (
	"strings"

	"github.com/tabwarden/tabwarden/internal/tab"
)

// skip reports whether a tab is excluded from discarding entirely,
// regardless of policy: already discarded, currently focused, missing a URL
// or a stable identifier, or a browser-internal page.
func skip(t tab.Tab) bool {
	if t.Discarded || t.Active {
		return true
	}
	if t.ID <= 0 || t.URL == "" {
		return true
	}
	return tab.IsPrivilegedURL(t.URL)
}

// matchSite reports whether the hostname contains any enabled pattern.
// Patterns are plain substrings, matched case-insensitively. An empty or
// fully-disabled pattern set matches nothing.
func matchSite(hostname string, targetSites map[string]bool) bool {
	if hostname == "" {
		return false
	}
	host := strings.ToLower(hostname)
	for pattern, enabled := range targetSites {
		if !enabled || pattern == "" {
			continue
		}
		if strings.Contains(host, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
