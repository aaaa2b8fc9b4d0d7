package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/model"
)

func TestDefinitionName(t *testing.T) {
	assert.Equal(t, "copy", DefinitionName("/state/patterns/copy.yml"))
	assert.Equal(t, "copy", DefinitionName("copy.yaml"))
	assert.Equal(t, "copy", DefinitionName("copy"))
	assert.Equal(t, "copy.json", DefinitionName("copy.json"))
}

func TestWriteAndLoadState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureStateDirs(dir))

	p, err := model.NewPattern("copy")
	require.NoError(t, err)
	require.NoError(t, p.AddSingleInput("infile", `start/.*\.txt`, ""))
	require.NoError(t, p.AddOutput("outfile", "end/*.txt"))
	require.NoError(t, p.AddRecipe("identity"))
	require.NoError(t, p.AddVariable("rate", 0.5))
	require.NoError(t, WritePattern(dir, p))

	r, err := model.NewRecipe("identity", "identity.ipynb", map[string]any{"cells": []any{}}, "python3")
	require.NoError(t, err)
	require.NoError(t, WriteRecipe(dir, r))

	require.NoError(t, os.WriteFile(filepath.Join(dir, PatternsDir, "bad.yml"), []byte("recipes: [x]\n"), 0o644))

	report, err := LoadState(dir)
	require.NoError(t, err)
	require.Contains(t, report.Patterns, "copy")
	require.Contains(t, report.Recipes, "identity")
	assert.True(t, model.SameDefinition(p, report.Patterns["copy"]))
	assert.True(t, model.SameRecipe(r, report.Recipes["identity"]))
	assert.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems, filepath.Join(dir, PatternsDir, "bad.yml"))
}

func TestLoadStateMissingDirs(t *testing.T) {
	report, err := LoadState(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, report.Patterns)
	assert.Empty(t, report.Recipes)
}

func TestRemoveDefinition(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureStateDirs(dir))
	path := filepath.Join(dir, RecipesDir, "identity.yml")
	require.NoError(t, os.WriteFile(path, []byte(recipeFile), 0o644))

	require.NoError(t, RemoveDefinition(dir, KindRecipe, "identity"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, RemoveDefinition(dir, KindRecipe, "identity"))
}
