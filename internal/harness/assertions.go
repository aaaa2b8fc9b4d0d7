package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/meow/internal/job"
)

// Assertion types.
const (
	AssertFileContent = "file_content"
	AssertFileExists  = "file_exists"
	AssertFileAbsent  = "file_absent"
	AssertJobCount    = "job_count"
)

// Assertion is one check made once the runner has settled.
type Assertion struct {
	Type string `yaml:"type"`

	// Path is used by the file assertions, relative to the managed
	// directory.
	Path string `yaml:"path,omitempty"`

	// Content is the exact expected content for file_content.
	Content string `yaml:"content,omitempty"`

	// Pattern and Status narrow job_count. Empty matches every job.
	Pattern string `yaml:"pattern,omitempty"`
	Status  string `yaml:"status,omitempty"`

	// Count is the expected number of jobs for job_count.
	Count int `yaml:"count,omitempty"`
}

func validateAssertion(i int, a *Assertion) error {
	switch a.Type {
	case AssertFileContent, AssertFileExists, AssertFileAbsent:
		if err := checkRelative(a.Path); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	case AssertJobCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", i)
		}
		if a.Status != "" && !job.Status(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown status %q", i, a.Status)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
	}
	return nil
}

func evaluate(a Assertion, root string, trace []TraceJob) error {
	switch a.Type {
	case AssertFileContent:
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(a.Path)))
		if err != nil {
			return fmt.Errorf("%s: %w", a.Path, err)
		}
		if string(data) != a.Content {
			return fmt.Errorf("%s: content %q, want %q", a.Path, data, a.Content)
		}
	case AssertFileExists:
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(a.Path))); err != nil {
			return fmt.Errorf("%s: %w", a.Path, err)
		}
	case AssertFileAbsent:
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(a.Path)))
		if err == nil {
			return fmt.Errorf("%s exists", a.Path)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", a.Path, err)
		}
	case AssertJobCount:
		n := 0
		for _, j := range trace {
			if (a.Pattern == "" || j.Pattern == a.Pattern) && (a.Status == "" || j.Status == a.Status) {
				n++
			}
		}
		if n != a.Count {
			return fmt.Errorf("got %d jobs, want %d", n, a.Count)
		}
	default:
		return fmt.Errorf("unknown type %q", a.Type)
	}
	return nil
}
