package model

import "fmt"

// Placeholder marks a value that an authoring tool left unfilled. Patterns
// containing it anywhere fail the integrity check.
const Placeholder = "PLACEHOLDER"

// ValidName reports whether s is usable as a pattern, recipe or variable
// name: non-empty and restricted to ASCII letters, digits, '-' and '_'.
func ValidName(s string) error {
	if s == "" {
		return fmt.Errorf("name is empty")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("invalid character %q in %q: only letters, digits, '-' and '_' are allowed", r, s)
		}
	}
	return nil
}
