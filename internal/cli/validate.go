package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/meow/internal/monitor"
)

// ValidationIssue is one problem found in a state directory.
type ValidationIssue struct {
	Kind    string `json:"kind"` // "pattern", "recipe" or "file"
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Patterns int               `json:"patterns"`
	Recipes  int               `json:"recipes"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <state-dir>",
		Short: "Check pattern and recipe definitions",
		Long: `Load every definition under the state directory and report the ones a
runner would skip: unreadable files, payloads missing required fields and
patterns failing their integrity check.

Patterns naming an unknown recipe, or more than one recipe, are warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, stateDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	report, err := loadStateDir(stateDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to load state", err)
	}

	result := validateReport(report, formatter)
	if err := formatter.Render(result, func(w io.Writer) error {
		writeValidationText(w, result)
		return nil
	}); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid definition(s)", len(result.Errors)))
	}
	return nil
}

// loadStateDir reads the definitions under stateDir, which must exist.
func loadStateDir(stateDir string) (*monitor.LoadReport, error) {
	info, err := os.Stat(stateDir)
	if err != nil {
		return nil, fmt.Errorf("state directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("state directory %s is not a directory", stateDir)
	}
	return monitor.LoadState(stateDir)
}

func validateReport(report *monitor.LoadReport, formatter *Formatter) ValidationResult {
	result := ValidationResult{Recipes: len(report.Recipes)}

	files := make([]string, 0, len(report.Problems))
	for file := range report.Problems {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		result.Errors = append(result.Errors, ValidationIssue{
			Kind:    "file",
			Name:    file,
			Message: report.Problems[file].Error(),
		})
	}

	for _, name := range sortedNames(report.Patterns) {
		p := report.Patterns[name]
		formatter.Debugf("Checking pattern: %s", name)
		ok, msg := p.IntegrityCheck()
		if !ok {
			result.Errors = append(result.Errors, ValidationIssue{Kind: "pattern", Name: name, Message: msg})
			continue
		}
		result.Patterns++
		if msg != "" {
			result.Warnings = append(result.Warnings, ValidationIssue{Kind: "pattern", Name: name, Message: msg})
		}
		recipe, multi, _ := p.Recipe()
		if multi {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Kind: "pattern", Name: name,
				Message: fmt.Sprintf("names %d recipes; only %s will be used", len(p.Recipes), recipe),
			})
		}
		if _, known := report.Recipes[recipe]; !known {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Kind: "pattern", Name: name,
				Message: fmt.Sprintf("recipe %s is not defined; no rule will be created", recipe),
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func writeValidationText(w io.Writer, result ValidationResult) {
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "error   %s %s: %s\n", issue.Kind, issue.Name, issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "warning %s %s: %s\n", issue.Kind, issue.Name, issue.Message)
	}
	if result.Valid {
		fmt.Fprintf(w, "✓ %d pattern(s) and %d recipe(s) valid\n", result.Patterns, result.Recipes)
		return
	}
	fmt.Fprintf(w, "✗ %d invalid definition(s)\n", len(result.Errors))
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
