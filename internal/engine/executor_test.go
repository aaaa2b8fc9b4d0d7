package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/config"
	"github.com/roach88/meow/internal/job"
)

func TestFilesFor(t *testing.T) {
	s, err := job.NewStore(t.TempDir())
	require.NoError(t, err)

	f := FilesFor(s, "j1")
	assert.Equal(t, "j1", f.ID)
	assert.Equal(t, filepath.Join(s.Root(), "j1"), f.Dir)
	assert.Equal(t, filepath.Join(f.Dir, job.BaseFile), f.Base)
	assert.Equal(t, filepath.Join(f.Dir, job.ParamsFile), f.Params)
	assert.Equal(t, filepath.Join(f.Dir, job.JobFile), f.Job)
	assert.Equal(t, filepath.Join(f.Dir, job.ResultFile), f.Result)
}

func TestExpandArgs(t *testing.T) {
	f := JobFiles{ID: "j1", Dir: "/jobs/j1", Base: "/jobs/j1/base.ipynb", Params: "/jobs/j1/params.yml",
		Job: "/jobs/j1/job.ipynb", Result: "/jobs/j1/result.ipynb"}

	got := expandArgs(config.Default().Executor.Materialize, f)
	assert.Equal(t, []string{"notebook_parameterizer", "/jobs/j1/base.ipynb", "/jobs/j1/params.yml", "-o", "/jobs/j1/job.ipynb"}, got)

	got = expandArgs([]string{"tool", "--id={id}", "--dir={dir}", "{result}"}, f)
	assert.Equal(t, []string{"tool", "--id=j1", "--dir=/jobs/j1", "/jobs/j1/result.ipynb"}, got)
}

func TestCommandExecutor_RunsInManagedRoot(t *testing.T) {
	root := t.TempDir()
	dir := t.TempDir()
	f := JobFiles{
		ID:     "j1",
		Dir:    dir,
		Base:   filepath.Join(dir, job.BaseFile),
		Params: filepath.Join(dir, job.ParamsFile),
		Job:    filepath.Join(dir, job.JobFile),
		Result: filepath.Join(dir, job.ResultFile),
	}
	require.NoError(t, os.WriteFile(f.Base, []byte(`{"cells":[]}`), 0o644))

	e := NewCommandExecutor(config.ExecutorConfig{
		Materialize: []string{"sh", "-c", `cp "$0" "$1"`, config.ArgBase, config.ArgJob},
		Run:         []string{"sh", "-c", `cp "$0" "$1" && pwd > where.txt`, config.ArgJob, config.ArgResult},
	}, root, nil)

	ctx := context.Background()
	require.NoError(t, e.Materialize(ctx, f))
	require.NoError(t, e.Run(ctx, f))

	result, err := os.ReadFile(f.Result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cells":[]}`, string(result))

	where, err := os.ReadFile(filepath.Join(root, "where.txt"))
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Contains(t, []string{root, resolved}, string(where[:len(where)-1]))
}

func TestCommandExecutor_FailureCarriesOutput(t *testing.T) {
	e := NewCommandExecutor(config.ExecutorConfig{
		Materialize: []string{"sh", "-c", "echo parameter missing >&2; exit 3"},
		Run:         []string{"true"},
	}, t.TempDir(), nil)

	err := e.Materialize(context.Background(), JobFiles{ID: "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "materialize")
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "parameter missing")
}

func TestCommandExecutor_NoCommand(t *testing.T) {
	e := NewCommandExecutor(config.ExecutorConfig{}, t.TempDir(), nil)
	assert.ErrorContains(t, e.Run(context.Background(), JobFiles{}), "no command configured")
}

func TestFuncExecutor_NilStepsAreNoOps(t *testing.T) {
	var e FuncExecutor
	assert.NoError(t, e.Materialize(context.Background(), JobFiles{}))
	assert.NoError(t, e.Run(context.Background(), JobFiles{}))
}

func TestOutputTail(t *testing.T) {
	long := make([]byte, maxOutputTail*2)
	for i := range long {
		long[i] = 'x'
	}
	tail := outputTail(long)
	assert.Len(t, tail, maxOutputTail+3)
	assert.Equal(t, "", outputTail([]byte("  \n")))
}
