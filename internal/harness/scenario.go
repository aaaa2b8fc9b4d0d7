package harness

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/meow/internal/model"
)

// Scenario defines a workflow scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Recipes and Patterns are definition payloads keyed by name.
	Recipes  map[string]map[string]any `yaml:"recipes"`
	Patterns map[string]map[string]any `yaml:"patterns"`

	// Steps are applied in order once the runner is up.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated once the runner has gone quiet.
	Assertions []Assertion `yaml:"assertions"`
}

// Step writes one file into the managed directory.
type Step struct {
	// Write is the path relative to the managed directory.
	Write string `yaml:"write"`

	// Content is written verbatim.
	Content string `yaml:"content"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario. Unknown keys are
// rejected so a typo in an assertion does not silently pass.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Validate checks required fields, definition payloads, step paths and
// assertions.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Patterns) == 0 {
		return fmt.Errorf("patterns are required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := s.recipes(); err != nil {
		return err
	}
	if _, err := s.patterns(); err != nil {
		return err
	}

	for i, step := range s.Steps {
		if err := checkRelative(step.Write); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scenario) recipes() ([]*model.Recipe, error) {
	out := make([]*model.Recipe, 0, len(s.Recipes))
	for _, name := range sortedKeys(s.Recipes) {
		r, err := model.RecipeFromPayload(name, s.Recipes[name])
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", name, err)
		}
		if _, err := recipeAction(r.Recipe); err != nil {
			return nil, fmt.Errorf("recipe %s: %w", name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Scenario) patterns() ([]*model.Pattern, error) {
	out := make([]*model.Pattern, 0, len(s.Patterns))
	for _, name := range sortedKeys(s.Patterns) {
		p, err := model.PatternFromPayload(name, s.Patterns[name])
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", name, err)
		}
		if ok, msg := p.IntegrityCheck(); !ok {
			return nil, fmt.Errorf("pattern %s: %s", name, msg)
		}
		out = append(out, p)
	}
	return out, nil
}

// checkRelative rejects paths that would leave the managed directory.
func checkRelative(p string) error {
	if p == "" {
		return fmt.Errorf("path is required")
	}
	clean := path.Clean(p)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q must stay inside the managed directory", p)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
