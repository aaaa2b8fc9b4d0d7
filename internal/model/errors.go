package model

import "fmt"

// DefinitionError reports misuse of the Pattern and Recipe builder API, such
// as defining the same input, output or variable twice.
//
// Builder misuse is a programming mistake rather than a runtime condition, so
// it is always returned to the caller and never logged-and-skipped.
type DefinitionError struct {
	// Definition is the pattern or recipe name the error relates to.
	Definition string

	// Field identifies the offending field (e.g. "output", "variable").
	Field string

	// Message is a human-readable description.
	Message string
}

func (e *DefinitionError) Error() string {
	if e.Definition != "" {
		return fmt.Sprintf("%s %s: %s", e.Definition, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func definitionErrorf(definition, field, format string, args ...any) *DefinitionError {
	return &DefinitionError{
		Definition: definition,
		Field:      field,
		Message:    fmt.Sprintf(format, args...),
	}
}
