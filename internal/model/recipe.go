package model

import (
	"fmt"
	"slices"
	"strings"
)

// Recipe is a named, reusable unit of work.
//
// The payload in Recipe is opaque to the engine: it is written verbatim into
// every job directory and handed to the external execution tooling.
type Recipe struct {
	// Name uniquely identifies the recipe. On disk it is the file name.
	Name string `yaml:"-" json:"name"`

	// Source references where the recipe definition came from.
	Source string `yaml:"source" json:"source"`

	// Recipe is the execution payload.
	Recipe map[string]any `yaml:"recipe" json:"recipe"`

	// Requirements names the capabilities a worker must advertise to be
	// handed a job for this recipe.
	Requirements []string `yaml:"requirements,omitempty" json:"requirements,omitempty"`
}

// NewRecipe builds a recipe from its parts.
func NewRecipe(name, source string, payload map[string]any, requirements ...string) (*Recipe, error) {
	if err := ValidName(name); err != nil {
		return nil, definitionErrorf(name, "name", "%v", err)
	}
	if strings.TrimSpace(source) == "" {
		return nil, definitionErrorf(name, "source", "recipe source was not given")
	}
	if payload == nil {
		return nil, definitionErrorf(name, "recipe", "recipe payload was not given")
	}
	for _, req := range requirements {
		if strings.TrimSpace(req) == "" {
			return nil, definitionErrorf(name, "requirements", "requirement is empty")
		}
	}
	return &Recipe{
		Name:         name,
		Source:       source,
		Recipe:       payload,
		Requirements: slices.Clone(requirements),
	}, nil
}

// Clone returns a deep copy.
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	payload, _ := cloneValue(r.Recipe).(map[string]any)
	return &Recipe{
		Name:         r.Name,
		Source:       r.Source,
		Recipe:       payload,
		Requirements: slices.Clone(r.Requirements),
	}
}

func (r *Recipe) String() string {
	return fmt.Sprintf("Name: %s, Source: %s, Requirements: %v", r.Name, r.Source, r.Requirements)
}
