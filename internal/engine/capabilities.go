package engine

import "strings"

// normalizeCapabilities lower-cases and trims a capability list, dropping
// blanks and duplicates.
func normalizeCapabilities(input []string) []string {
	out := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, capab := range input {
		c := strings.TrimSpace(strings.ToLower(capab))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func hasCapability(caps []string, target string) bool {
	target = strings.TrimSpace(strings.ToLower(target))
	if target == "" {
		return false
	}
	for _, c := range caps {
		if c == target {
			return true
		}
	}
	return false
}

// satisfies reports whether a worker advertising caps (normalized) may run a
// job with the given requirements.
func satisfies(caps []string, required []string) bool {
	for _, req := range required {
		if !hasCapability(caps, req) {
			return false
		}
	}
	return true
}
