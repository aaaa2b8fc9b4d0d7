package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is returned by the Runner's request methods.
//
// Runtime errors include:
//   - Unknown pattern or recipe: modify/remove of a name that is not loaded
//   - Invalid definition: a pattern or recipe that fails its integrity check
//   - Runner stopped: the administrator has exited
//   - Unknown request: a request kind the administrator does not serve
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Name is the pattern or recipe concerned, if any.
	Name string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeUnknownPattern    RuntimeErrorCode = "UNKNOWN_PATTERN"
	ErrCodeUnknownRecipe     RuntimeErrorCode = "UNKNOWN_RECIPE"
	ErrCodeInvalidDefinition RuntimeErrorCode = "INVALID_DEFINITION"
	ErrCodeRunnerStopped     RuntimeErrorCode = "RUNNER_STOPPED"
	ErrCodeUnknownRequest    RuntimeErrorCode = "UNKNOWN_REQUEST"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s (name=%s)", e.Code, e.Message, e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsStoppedError reports whether err says the runner is no longer serving
// requests. Uses errors.As to handle wrapped errors.
func IsStoppedError(err error) bool {
	return hasCode(err, ErrCodeRunnerStopped)
}

// IsUnknownPatternError reports whether err names a pattern that is not
// loaded.
func IsUnknownPatternError(err error) bool {
	return hasCode(err, ErrCodeUnknownPattern)
}

// IsUnknownRecipeError reports whether err names a recipe that is not loaded.
func IsUnknownRecipeError(err error) bool {
	return hasCode(err, ErrCodeUnknownRecipe)
}

// IsInvalidDefinitionError reports whether err rejects a pattern or recipe
// as malformed.
func IsInvalidDefinitionError(err error) bool {
	return hasCode(err, ErrCodeInvalidDefinition)
}

func newUnknownPatternError(name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownPattern,
		Message: "pattern is not loaded",
		Name:    name,
	}
}

func newUnknownRecipeError(name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownRecipe,
		Message: "recipe is not loaded",
		Name:    name,
	}
}

func newInvalidDefinitionError(name, reason string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidDefinition,
		Message: reason,
		Name:    name,
	}
}

func newStoppedError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRunnerStopped,
		Message: "runner is not running",
	}
}

func newUnknownRequestError(kind RequestKind) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownRequest,
		Message: "request kind is not served",
		Details: map[string]string{"kind": string(kind)},
	}
}
