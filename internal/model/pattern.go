package model

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// OutputWildcard in an output template stands for the triggering file's name
// without its extension.
const OutputWildcard = "*"

// Integrity check messages.
const (
	msgNoName           = "no name has been set"
	msgNoTriggerFile    = "no input file has been set"
	msgNoTriggerPaths   = "no input paths have been set"
	msgEmptyTriggerPath = "input path is empty"
	msgNoRecipes        = "no recipes have been set"
	msgTriggerNotVar    = "input file is not defined as a variable"
	msgOutputNotVar     = "output is not defined as a variable"
	msgPlaceholder      = "one or more values are still set to " + Placeholder

	// WarnNoOutputs is returned by IntegrityCheck for an otherwise valid
	// pattern that declares no outputs.
	WarnNoOutputs = "no output has been set, meaning no resulting data will be copied back into the managed directory"
)

// Pattern binds one or more trigger paths to a recipe.
//
// INVARIANTS (for a pattern that passes IntegrityCheck):
//   - TriggerFile is a key of Variables
//   - every key of Outputs is a key of Variables
//   - TriggerPaths holds at least one non-empty regex
type Pattern struct {
	// Name uniquely identifies the pattern. On disk it is the file name, so
	// it is not part of the serialized body.
	Name string `yaml:"-" json:"name"`

	// TriggerFile is the variable name the triggering path is bound to.
	TriggerFile string `yaml:"input_file" json:"input_file"`

	// TriggerPaths are matched against file events; a hit on any one fires.
	TriggerPaths []string `yaml:"input_paths" json:"input_paths"`

	// Recipes lists the recipe names used. The engine requires exactly one.
	Recipes []string `yaml:"recipes" json:"recipes"`

	// Outputs maps a variable name to an output path template.
	Outputs map[string]string `yaml:"output" json:"output"`

	// Variables are literal parameters handed to the recipe.
	Variables map[string]any `yaml:"variables" json:"variables"`

	// Sweep optionally fans a single trigger out to one job per value.
	Sweep map[string]Sweep `yaml:"sweep,omitempty" json:"sweep,omitempty"`
}

// NewPattern starts an empty pattern to be filled in with the builder methods.
func NewPattern(name string) (*Pattern, error) {
	if err := ValidName(name); err != nil {
		return nil, definitionErrorf(name, "name", "%v", err)
	}
	return &Pattern{
		Name:      name,
		Outputs:   map[string]string{},
		Variables: map[string]any{},
	}, nil
}

// AddSingleInput defines the pattern's trigger as a single regex path. The
// triggering file is bound to inputFile. When outputPath is non-empty it is
// also declared as an output under inputFile.
//
// Returns a DefinitionError if an input is already defined.
func (p *Pattern) AddSingleInput(inputFile, regexPath, outputPath string) error {
	if inputFile == "" {
		return definitionErrorf(p.Name, "input_file", "input file was not given")
	}
	if regexPath == "" {
		return definitionErrorf(p.Name, "input_paths", "input path was not given")
	}
	if len(p.TriggerPaths) != 0 {
		return definitionErrorf(p.Name, "input", "could not create single input %s, as input already defined", inputFile)
	}
	p.TriggerFile = inputFile
	p.TriggerPaths = []string{regexPath}
	if outputPath != "" {
		return p.AddOutput(inputFile, outputPath)
	}
	return p.AddVariable(inputFile, inputFile)
}

// AddGatheringInput defines the pattern's trigger as a list of literal paths,
// each of which triggers the recipe independently with inputFile bound to it.
//
// Returns a DefinitionError if an input is already defined.
func (p *Pattern) AddGatheringInput(inputFile string, paths []string, outputPath string) error {
	if inputFile == "" {
		return definitionErrorf(p.Name, "input_file", "input file was not given")
	}
	if len(paths) == 0 {
		return definitionErrorf(p.Name, "input_paths", "path list was not given")
	}
	for _, path := range paths {
		if path == "" {
			return definitionErrorf(p.Name, "input_paths", "path list entry is empty")
		}
	}
	if len(p.TriggerPaths) != 0 {
		return definitionErrorf(p.Name, "input", "could not create gathering input %s, as input already defined", inputFile)
	}
	p.TriggerFile = inputFile
	if outputPath != "" {
		if err := p.AddOutput(inputFile, outputPath); err != nil {
			return err
		}
	} else if err := p.AddVariable(inputFile, inputFile); err != nil {
		return err
	}
	p.TriggerPaths = append(p.TriggerPaths, paths...)
	return nil
}

// AddOutput declares an output file. The name also becomes a variable so the
// recipe can refer to it.
func (p *Pattern) AddOutput(name, location string) error {
	if name == "" {
		return definitionErrorf(p.Name, "output", "output name was not given")
	}
	if location == "" {
		return definitionErrorf(p.Name, "output", "output location for %s was not given", name)
	}
	if _, exists := p.Outputs[name]; exists {
		return definitionErrorf(p.Name, "output", "could not create output %s as already defined", name)
	}
	if p.Outputs == nil {
		p.Outputs = map[string]string{}
	}
	p.Outputs[name] = location
	return p.AddVariable(name, name)
}

// AddRecipe appends a recipe name.
func (p *Pattern) AddRecipe(name string) error {
	if err := ValidName(name); err != nil {
		return definitionErrorf(p.Name, "recipe", "%v", err)
	}
	if slices.Contains(p.Recipes, name) {
		return definitionErrorf(p.Name, "recipe", "recipe %s is already used", name)
	}
	p.Recipes = append(p.Recipes, name)
	return nil
}

// AddVariable defines a literal parameter.
func (p *Pattern) AddVariable(name string, value any) error {
	if err := ValidName(name); err != nil {
		return definitionErrorf(p.Name, "variable", "%v", err)
	}
	if _, exists := p.Variables[name]; exists {
		if name == p.TriggerFile {
			return definitionErrorf(p.Name, "variable", "could not create variable %s as this name is already used by the input file", name)
		}
		return definitionErrorf(p.Name, "variable", "could not create variable %s as a variable with this name is already defined", name)
	}
	if p.Variables == nil {
		p.Variables = map[string]any{}
	}
	p.Variables[name] = value
	return nil
}

// AddSweep declares a swept variable. The variable must not also be a
// literal variable.
func (p *Pattern) AddSweep(name string, sweep Sweep) error {
	if err := ValidName(name); err != nil {
		return definitionErrorf(p.Name, "sweep", "%v", err)
	}
	if _, exists := p.Sweep[name]; exists {
		return definitionErrorf(p.Name, "sweep", "sweep over %s is already defined", name)
	}
	if _, err := sweep.Values(); err != nil {
		return definitionErrorf(p.Name, "sweep", "%s: %v", name, err)
	}
	if p.Sweep == nil {
		p.Sweep = map[string]Sweep{}
	}
	p.Sweep[name] = sweep
	return nil
}

// IntegrityCheck reports whether the pattern is complete enough to run.
//
// On failure the message says why. On success the message may still carry a
// warning (WarnNoOutputs), which is not a failure.
func (p *Pattern) IntegrityCheck() (bool, string) {
	if p.Name == "" {
		return false, msgNoName
	}
	if p.TriggerFile == "" {
		return false, msgNoTriggerFile
	}
	if len(p.TriggerPaths) == 0 {
		return false, msgNoTriggerPaths
	}
	for i, path := range p.TriggerPaths {
		if path == "" {
			return false, fmt.Sprintf("input path %d: %s", i, msgEmptyTriggerPath)
		}
	}
	warning := ""
	if len(p.Outputs) == 0 {
		warning = WarnNoOutputs
	}
	if len(p.Recipes) == 0 {
		return false, msgNoRecipes
	}
	if _, ok := p.Variables[p.TriggerFile]; !ok {
		return false, msgTriggerNotVar
	}
	for _, name := range sortedKeys(p.Outputs) {
		if _, ok := p.Variables[name]; !ok {
			return false, fmt.Sprintf("output %q: %s", name, msgOutputNotVar)
		}
	}
	if p.hasPlaceholder() {
		return false, msgPlaceholder
	}
	return true, warning
}

func (p *Pattern) hasPlaceholder() bool {
	if p.Name == Placeholder || p.TriggerFile == Placeholder {
		return true
	}
	if slices.Contains(p.TriggerPaths, Placeholder) || slices.Contains(p.Recipes, Placeholder) {
		return true
	}
	for k, v := range p.Outputs {
		if k == Placeholder || v == Placeholder {
			return true
		}
	}
	for k, v := range p.Variables {
		if k == Placeholder {
			return true
		}
		if s, ok := v.(string); ok && s == Placeholder {
			return true
		}
	}
	return false
}

// Recipe returns the pattern's sole recipe name. ok is false when the
// pattern names no recipe; multi reports that more than one was named, which
// the engine does not support.
func (p *Pattern) Recipe() (name string, multi bool, ok bool) {
	if len(p.Recipes) == 0 {
		return "", false, false
	}
	return p.Recipes[0], len(p.Recipes) > 1, true
}

// Clone returns a deep copy so the caller may hand the pattern across a
// channel without sharing maps.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	c := &Pattern{
		Name:         p.Name,
		TriggerFile:  p.TriggerFile,
		TriggerPaths: slices.Clone(p.TriggerPaths),
		Recipes:      slices.Clone(p.Recipes),
		Outputs:      make(map[string]string, len(p.Outputs)),
		Variables:    make(map[string]any, len(p.Variables)),
	}
	for k, v := range p.Outputs {
		c.Outputs[k] = v
	}
	for k, v := range p.Variables {
		c.Variables[k] = cloneValue(v)
	}
	if p.Sweep != nil {
		c.Sweep = make(map[string]Sweep, len(p.Sweep))
		for k, v := range p.Sweep {
			c.Sweep[k] = v
		}
	}
	return c
}

// String renders the user-editable fields.
func (p *Pattern) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s, Input(s): %s, Trigger(s): %v, Output(s): %v, Recipe(s): %v, Variable(s): %v",
		p.Name, p.TriggerFile, p.TriggerPaths, p.Outputs, p.Recipes, p.Variables)
	return b.String()
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
