// Package validate sanitizes user-supplied identifiers (agent names,
// team names, tags) before they enter the registry.
package validate

import (
	"fmt"
	"strings"
)

// SanitizeName sanitizes and validates an agent or team name.
// Forbidden characters (control characters, " and \) are silently stripped.
// Returns the sanitized name or an error if the result is empty or exceeds 64 characters.
func SanitizeName(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		if r >= 0x20 && r != 0x7F && r != '"' && r != '\\' {
			b.WriteRune(r)
		}
	}
	sanitized := strings.TrimSpace(b.String())
	if sanitized == "" {
		return "", fmt.Errorf("name must not be empty")
	}
	if len(sanitized) > 64 {
		return "", fmt.Errorf("name must be at most 64 characters")
	}
	return sanitized, nil
}

// SanitizeTags trims, drops empties, and de-duplicates a tag list while
// preserving first-seen order.
func SanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
