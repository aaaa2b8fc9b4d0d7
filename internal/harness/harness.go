package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/meow/internal/config"
	"github.com/roach88/meow/internal/engine"
	"github.com/roach88/meow/internal/job"
	"github.com/roach88/meow/internal/testutil"
)

// Defaults for Options.
const (
	DefaultQuiet   = 400 * time.Millisecond
	DefaultTimeout = 10 * time.Second
	settleTick     = 20 * time.Millisecond
)

// Options tunes a scenario run.
type Options struct {
	// Workers is the size of the worker pool. Zero means two.
	Workers int

	// Quiet is how long the job set must stay unchanged, with every job
	// finished, before the run is considered settled.
	Quiet time.Duration

	// Timeout bounds the whole run.
	Timeout time.Duration

	// Logger receives the runner's logs. Nil discards them.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers == 0 {
		o.Workers = 2
	}
	if o.Quiet == 0 {
		o.Quiet = DefaultQuiet
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return RunWith(context.Background(), scenario, Options{})
}

// RunWith starts a runner over fresh temporary directories, installs the
// scenario's definitions, applies its steps, waits for the runner to settle
// and evaluates the assertions. The error is non-nil only when the scenario
// could not be run; failed assertions are reported in the Result.
func RunWith(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	recipes, err := scenario.recipes()
	if err != nil {
		return nil, err
	}
	patterns, err := scenario.patterns()
	if err != nil {
		return nil, err
	}

	base, err := os.MkdirTemp("", "meow-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(base)

	cfg := config.Default()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.StateDir = filepath.Join(base, "state")
	cfg.JobsDir = filepath.Join(base, "jobs")
	cfg.Workers = opts.Workers
	cfg.StartWorkers = true
	cfg.RetroActive = true
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollJitter = 0

	jobs, err := job.NewStore(cfg.JobsDir)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string][]string, len(patterns))
	for _, p := range patterns {
		outputs[p.Name] = sortedKeys(p.Outputs)
	}

	runner, err := engine.New(cfg,
		engine.WithLogger(opts.Logger),
		engine.WithIDGenerator(testutil.NewSequenceIDs("job")),
		engine.WithExecutor(actionExecutor(cfg.DataDir, jobs, outputs)),
	)
	if err != nil {
		return nil, err
	}
	if err := runner.Start(ctx); err != nil {
		return nil, fmt.Errorf("start runner: %w", err)
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), opts.Timeout)
		defer stop()
		if _, err := runner.Kill(stopCtx); err != nil && !engine.IsStoppedError(err) {
			opts.Logger.Warn("kill runner", "error", err)
		}
		<-runner.Done()
	}()

	for _, r := range recipes {
		if _, err := runner.AddRecipe(ctx, r); err != nil {
			return nil, fmt.Errorf("add recipe %s: %w", r.Name, err)
		}
	}
	for _, p := range patterns {
		if _, err := runner.AddPattern(ctx, p); err != nil {
			return nil, fmt.Errorf("add pattern %s: %w", p.Name, err)
		}
	}

	for i, step := range scenario.Steps {
		path := filepath.Join(cfg.DataDir, filepath.FromSlash(step.Write))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if err := os.WriteFile(path, []byte(step.Content), 0o644); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	finished, err := settle(ctx, jobs, opts.Quiet)
	if err != nil {
		return nil, err
	}

	result := &Result{Trace: trace(finished, jobs.Root())}
	for i, a := range scenario.Assertions {
		if err := evaluate(a, cfg.DataDir, result.Trace); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	result.Pass = len(result.Errors) == 0
	return result, nil
}

// settle polls the job store until every job is finished and the set of
// jobs has not changed for quiet.
func settle(ctx context.Context, jobs *job.Store, quiet time.Duration) ([]*job.Job, error) {
	ticker := time.NewTicker(settleTick)
	defer ticker.Stop()

	var (
		last     string
		lastSeen = time.Now()
	)
	for {
		list, err := jobs.List()
		if err != nil {
			return nil, err
		}
		fingerprint, done := summarize(list)
		if fingerprint != last {
			last, lastSeen = fingerprint, time.Now()
		} else if done && time.Since(lastSeen) >= quiet {
			return list, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("runner did not settle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// summarize reports a fingerprint of the job set and whether every job has
// finished.
func summarize(list []*job.Job) (string, bool) {
	var b strings.Builder
	done := true
	for _, j := range list {
		fmt.Fprintf(&b, "%s=%s;", j.ID, j.Status)
		if !j.Status.Terminal() {
			done = false
		}
	}
	return b.String(), done
}

func trace(list []*job.Job, jobsRoot string) []TraceJob {
	out := make([]TraceJob, 0, len(list))
	for _, j := range list {
		out = append(out, TraceJob{
			Pattern: j.Pattern,
			Recipe:  j.Recipe,
			Path:    j.Path,
			Status:  string(j.Status),
			Error:   strings.ReplaceAll(j.Error, jobsRoot, "<jobs>"),
		})
	}
	return sortTrace(out)
}

func sortTrace(out []TraceJob) []TraceJob {
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Pattern != out[b].Pattern {
			return out[a].Pattern < out[b].Pattern
		}
		return out[a].Path < out[b].Path
	})
	return out
}
