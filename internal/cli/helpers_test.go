package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/model"
	"github.com/roach88/meow/internal/monitor"
)

func copyPattern(t *testing.T, name, trigger, output string) *model.Pattern {
	t.Helper()
	p, err := model.NewPattern(name)
	require.NoError(t, err)
	require.NoError(t, p.AddSingleInput("infile", trigger, ""))
	require.NoError(t, p.AddOutput("outfile", output))
	require.NoError(t, p.AddRecipe("identity"))
	return p
}

func identityRecipe(t *testing.T) *model.Recipe {
	t.Helper()
	r, err := model.NewRecipe("identity", "identity.ipynb", map[string]any{"cells": []any{}})
	require.NoError(t, err)
	return r
}

// chainState writes a two-pattern chain start -> mid -> end into a fresh
// state directory.
func chainState(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "state")
	require.NoError(t, monitor.EnsureStateDirs(dir))
	require.NoError(t, monitor.WriteRecipe(dir, identityRecipe(t)))
	require.NoError(t, monitor.WritePattern(dir, copyPattern(t, "first", "start/*.txt", "mid/*.txt")))
	require.NoError(t, monitor.WritePattern(dir, copyPattern(t, "second", "mid/*.txt", "end/*.txt")))
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
