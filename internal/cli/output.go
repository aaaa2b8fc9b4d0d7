package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Invalid definitions, failed jobs, runner error
	ExitCommandError = 2 // Command error (missing directory, unreadable ledger, etc.)
)

// Error codes carried in JSON error responses.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeNotFound    = "E002"
	ErrCodeInvalid     = "E003"
	ErrCodeUnreadable  = "E004"
	ErrCodeLedgerError = "E005"
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that carry no
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Envelope wraps every JSON response.
type Envelope struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError describes a failed command in a JSON response.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Formatter writes a command's result either as a JSON envelope or as text.
// Diagnostics go to Diag so they never corrupt JSON on Out.
type Formatter struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer
	Verbose bool
}

// JSON reports whether output is machine-readable.
func (f *Formatter) JSON() bool {
	return f.Format == "json"
}

// Render writes data as an "ok" envelope in JSON mode, and otherwise hands
// Out to text.
func (f *Formatter) Render(data any, text func(w io.Writer) error) error {
	if f.JSON() {
		return f.encode(Envelope{Status: "ok", Data: data})
	}
	return text(f.Out)
}

// Fail reports a failed command and returns the ExitError for RunE. In JSON
// mode an "error" envelope is written to Out; in text mode the returned
// error is all the caller prints.
func (f *Formatter) Fail(exit int, code, message string, err error) error {
	exitErr := WrapExitError(exit, message, err)
	if f.JSON() {
		if encErr := f.encode(Envelope{Status: "error", Error: &EnvelopeError{Code: code, Message: exitErr.Error()}}); encErr != nil {
			return errors.Join(exitErr, encErr)
		}
	}
	return exitErr
}

// Debugf writes one diagnostic line when verbose.
func (f *Formatter) Debugf(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.Diag
	if w == nil {
		w = f.Out
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *Formatter) encode(v any) error {
	enc := json.NewEncoder(f.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
