package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/meow/internal/fsutil"
	"github.com/roach88/meow/internal/model"
)

// Subdirectories of the state root.
const (
	PatternsDir = "patterns"
	RecipesDir  = "recipes"
)

// DefinitionExt is the extension written for definition files. Files without
// an extension, or with ".yaml", are read too.
const DefinitionExt = ".yml"

// DefinitionName derives a definition name from its file name.
func DefinitionName(file string) string {
	base := filepath.Base(file)
	for _, ext := range []string{".yml", ".yaml"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}

// EnsureStateDirs creates the state root and its two subdirectories.
func EnsureStateDirs(stateDir string) error {
	for _, sub := range []string{PatternsDir, RecipesDir} {
		if err := fsutil.EnsureDir(filepath.Join(stateDir, sub), 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	return nil
}

// ReadPattern decodes and validates one pattern file.
func ReadPattern(path string) (*model.Pattern, error) {
	payload, err := readPayload(path)
	if err != nil {
		return nil, err
	}
	return model.PatternFromPayload(DefinitionName(path), payload)
}

// ReadRecipe decodes and validates one recipe file.
func ReadRecipe(path string) (*model.Recipe, error) {
	payload, err := readPayload(path)
	if err != nil {
		return nil, err
	}
	return model.RecipeFromPayload(DefinitionName(path), payload)
}

func readPayload(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode definition %s: %w", path, err)
	}
	return payload, nil
}

// WritePattern stores a pattern under the state root, replacing any previous
// definition of the same name.
func WritePattern(stateDir string, p *model.Pattern) error {
	return writePayload(filepath.Join(stateDir, PatternsDir, p.Name+DefinitionExt), p.ToPayload())
}

// WriteRecipe stores a recipe under the state root.
func WriteRecipe(stateDir string, r *model.Recipe) error {
	return writePayload(filepath.Join(stateDir, RecipesDir, r.Name+DefinitionExt), r.ToPayload())
}

func writePayload(path string, payload map[string]any) error {
	data, err := yaml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write definition %s: %w", path, err)
	}
	return nil
}

// RemoveDefinition deletes every file defining name of the given kind. A
// missing file is not an error.
func RemoveDefinition(stateDir string, kind Kind, name string) error {
	dir := filepath.Join(stateDir, kindDir(kind))
	for _, file := range []string{name, name + ".yml", name + ".yaml"} {
		err := os.Remove(filepath.Join(dir, file))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s %s: %w", kind, name, err)
		}
	}
	return nil
}

func kindDir(kind Kind) string {
	if kind == KindRecipe {
		return RecipesDir
	}
	return PatternsDir
}

// LoadReport is the outcome of reading a whole state root.
type LoadReport struct {
	Patterns map[string]*model.Pattern
	Recipes  map[string]*model.Recipe
	// Problems maps a definition file path to why it was not loaded.
	Problems map[string]error
}

// LoadState reads every definition under stateDir. Unreadable definitions
// are reported in Problems instead of failing the whole load; only a failure
// to list a directory is returned as an error.
func LoadState(stateDir string) (*LoadReport, error) {
	report := &LoadReport{
		Patterns: map[string]*model.Pattern{},
		Recipes:  map[string]*model.Recipe{},
		Problems: map[string]error{},
	}
	for _, kind := range []Kind{KindPattern, KindRecipe} {
		files, err := definitionFiles(filepath.Join(stateDir, kindDir(kind)))
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			switch kind {
			case KindPattern:
				p, err := ReadPattern(path)
				if err != nil {
					report.Problems[path] = err
					continue
				}
				report.Patterns[p.Name] = p
			case KindRecipe:
				r, err := ReadRecipe(path)
				if err != nil {
					report.Problems[path] = err
					continue
				}
				report.Recipes[r.Name] = r
			}
		}
	}
	return report, nil
}

// definitionFiles lists the candidate definition files in dir, sorted. A
// missing directory yields no files.
func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || fsutil.Hidden(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
