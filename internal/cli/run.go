package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/meow/internal/config"
	"github.com/roach88/meow/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath   string
	StateDir     string
	JobsDir      string
	Ledger       string
	Workers      int
	RetroActive  bool
	StartWorkers bool
	Debounce     time.Duration
	PollInterval time.Duration
	ClearOnStop  bool

	// EngineOptions are appended when building the runner (for testing).
	EngineOptions []engine.Option
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <data-dir>",
		Short: "Monitor a directory and run matching jobs",
		Long: `Start a runner over the given managed data directory.

Patterns and recipes are loaded from the state directory and watched for
changes. File events under the data directory that match a pattern's trigger
paths schedule jobs into the jobs directory, which the worker pool executes.

Settings come from the defaults, then the optional --config YAML file, then
any flags given explicitly.

Example:
  meow run ./data --state ./meow_state --workers 4
  meow run ./data --config meow.yml --ledger ./meow.db --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunner(opts, args[0], cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&opts.StateDir, "state", config.DefaultStateDir, "directory holding patterns/ and recipes/")
	f.StringVar(&opts.JobsDir, "jobs", config.DefaultJobsDir, "directory job directories are created in")
	f.StringVar(&opts.Ledger, "ledger", "", "path to a SQLite job ledger (disabled when empty)")
	f.IntVarP(&opts.Workers, "workers", "w", config.DefaultWorkers, "number of workers")
	f.BoolVar(&opts.RetroActive, "retro", true, "schedule jobs for existing files when a rule is created")
	f.BoolVar(&opts.StartWorkers, "start-workers", true, "start the workers immediately")
	f.DurationVar(&opts.Debounce, "debounce", config.DefaultDebounce, "collapse repeated events on one path within this window")
	f.DurationVar(&opts.PollInterval, "poll", config.DefaultPollInterval, "how long an idle worker waits before asking for work")
	f.BoolVar(&opts.ClearOnStop, "clear-jobs", false, "remove job directories created by this run on shutdown")

	return cmd
}

// resolveConfig layers the config file and explicitly set flags over the
// defaults.
func resolveConfig(opts *RunOptions, dataDir string, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.DataDir = dataDir
	// The flag defaults equal the config defaults, so a flag only
	// overrides the file when given.
	f := cmd.Flags()
	if f.Changed("state") {
		cfg.StateDir = opts.StateDir
	}
	if f.Changed("jobs") {
		cfg.JobsDir = opts.JobsDir
	}
	if f.Changed("ledger") {
		cfg.LedgerPath = opts.Ledger
	}
	if f.Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if f.Changed("retro") {
		cfg.RetroActive = opts.RetroActive
	}
	if f.Changed("start-workers") || opts.ConfigPath == "" {
		cfg.StartWorkers = opts.StartWorkers
	}
	if f.Changed("debounce") {
		cfg.Debounce = opts.Debounce
	}
	if f.Changed("poll") {
		cfg.PollInterval = opts.PollInterval
	}
	return cfg, cfg.Validate()
}

func runRunner(opts *RunOptions, dataDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)

	cfg, err := resolveConfig(opts, dataDir, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	engineOpts := append([]engine.Option{engine.WithLogger(logger)}, opts.EngineOptions...)
	runner, err := engine.New(cfg, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create runner", err)
	}

	// Use command's context if available (for testing)
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start runner", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, finishing current jobs", "signal", sig)
			go func() {
				if _, err := runner.StopRunner(ctx, opts.ClearOnStop); err != nil && !engine.IsStoppedError(err) {
					logger.Error("stop runner", "error", err)
				}
			}()
		case <-runner.Done():
			return
		}
		select {
		case sig := <-sigChan:
			logger.Warn("received second signal, stopping now", "signal", sig)
			cancel()
		case <-runner.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Runner started on %s with %d worker(s).\n", dataDir, cfg.Workers)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := runner.Wait(); err != nil {
		return WrapExitError(ExitFailure, "runner error", err)
	}
	logger.Info("runner stopped gracefully")
	return nil
}
