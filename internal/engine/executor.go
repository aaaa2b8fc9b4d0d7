package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/roach88/meow/internal/config"
	"github.com/roach88/meow/internal/job"
)

// maxOutputTail bounds how much of a failed command's output is kept in the
// job's error string.
const maxOutputTail = 512

// JobFiles names the files of one job directory.
type JobFiles struct {
	ID     string
	Dir    string
	Base   string // unexecuted payload
	Params string // resolved parameters
	Job    string // materialized artifact, written by Materialize
	Result string // result artifact, written by Run
}

// FilesFor returns the file names of job id in store s.
func FilesFor(s *job.Store, id string) JobFiles {
	return JobFiles{
		ID:     id,
		Dir:    s.Dir(id),
		Base:   s.Path(id, job.BaseFile),
		Params: s.Path(id, job.ParamsFile),
		Job:    s.Path(id, job.JobFile),
		Result: s.Path(id, job.ResultFile),
	}
}

// Executor performs the two external steps of a job. Each step is judged by
// the file it must leave behind, not only by its error.
type Executor interface {
	// Materialize combines Base and Params into Job.
	Materialize(ctx context.Context, f JobFiles) error

	// Run executes Job and writes Result.
	Run(ctx context.Context, f JobFiles) error
}

// FuncExecutor adapts two functions to Executor. A nil function is a no-op
// step. It lets an embedding application run recipes in process.
type FuncExecutor struct {
	MaterializeFunc func(ctx context.Context, f JobFiles) error
	RunFunc         func(ctx context.Context, f JobFiles) error
}

func (e FuncExecutor) Materialize(ctx context.Context, f JobFiles) error {
	if e.MaterializeFunc == nil {
		return nil
	}
	return e.MaterializeFunc(ctx, f)
}

func (e FuncExecutor) Run(ctx context.Context, f JobFiles) error {
	if e.RunFunc == nil {
		return nil
	}
	return e.RunFunc(ctx, f)
}

// CommandExecutor runs each step as an external command built from an argv
// template. The placeholders of config (ArgBase, ArgParams, ArgJob,
// ArgResult, ArgDir, ArgID) are replaced in every argument. Commands run
// with the managed root as working directory so recipes can use relative
// output paths.
type CommandExecutor struct {
	materialize []string
	run         []string
	dir         string
	logger      *slog.Logger
}

// NewCommandExecutor builds an executor from cfg. dir is the working
// directory of every command.
func NewCommandExecutor(cfg config.ExecutorConfig, dir string, logger *slog.Logger) *CommandExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandExecutor{
		materialize: append([]string(nil), cfg.Materialize...),
		run:         append([]string(nil), cfg.Run...),
		dir:         dir,
		logger:      logger.With("component", "executor"),
	}
}

func (e *CommandExecutor) Materialize(ctx context.Context, f JobFiles) error {
	return e.exec(ctx, "materialize", e.materialize, f)
}

func (e *CommandExecutor) Run(ctx context.Context, f JobFiles) error {
	return e.exec(ctx, "run", e.run, f)
}

func (e *CommandExecutor) exec(ctx context.Context, step string, argv []string, f JobFiles) error {
	if len(argv) == 0 {
		return fmt.Errorf("%s: no command configured", step)
	}
	args := expandArgs(argv, f)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.logger.Debug("executing", "job_id", f.ID, "step", step, "command", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if tail := outputTail(out.Bytes()); tail != "" {
			return fmt.Errorf("%s: %w: %s", step, err, tail)
		}
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}

func expandArgs(argv []string, f JobFiles) []string {
	r := strings.NewReplacer(
		config.ArgBase, f.Base,
		config.ArgParams, f.Params,
		config.ArgJob, f.Job,
		config.ArgResult, f.Result,
		config.ArgDir, f.Dir,
		config.ArgID, f.ID,
	)
	args := make([]string, len(argv))
	for i, a := range argv {
		args[i] = r.Replace(a)
	}
	return args
}

func outputTail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}
