package document

import (
	"fmt"
	"strings"
)

// DefaultTitle is used when the caller leaves the title blank.
const DefaultTitle = "Untitled"

// NormalizeTitle trims the title and falls back to DefaultTitle.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// ResolveTitle returns base when it is free, otherwise "base (n)" with the
// smallest n >= 1 not present in taken.
func ResolveTitle(base string, taken []string) string {
	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[t] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
}
