package config

import "strings"

// DefaultIgnorePrefixes returns URL prefixes whose sessions are tracked but
// never persisted. These are browser-internal pages that have no domain
// worth reporting on.
func DefaultIgnorePrefixes() []string {
	return []string{
		// Chromium
		"chrome://",
		"chrome-extension://",
		"chrome-search://",
		"devtools://",
		"edge://",

		// Firefox
		"about:",
		"moz-extension://",
		"view-source:",
	}
}

// HasIgnoredPrefix reports whether url starts with any of prefixes.
func HasIgnoredPrefix(url string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
