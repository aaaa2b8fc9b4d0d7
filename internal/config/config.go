// Package config holds the runner configuration.
//
// A Config is built from defaults, optionally overlaid with a YAML file, then
// overridden by command-line flags, and finally checked with Validate. It is
// passed by value to the engine at construction; nothing reads configuration
// from package-level state.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultStateDir     = "meow_state"
	DefaultJobsDir      = "meow_jobs"
	DefaultWorkers      = 1
	DefaultDebounce     = time.Second
	DefaultPollInterval = 10 * time.Second
	DefaultPollJitter   = time.Second
)

// Placeholders available in executor argument templates.
const (
	ArgBase   = "{base}"
	ArgParams = "{params}"
	ArgJob    = "{job}"
	ArgResult = "{result}"
	ArgDir    = "{dir}"
	ArgID     = "{id}"
)

// ExecutorConfig holds the argv templates of the two external steps of a job.
type ExecutorConfig struct {
	// Materialize turns the unexecuted payload and the parameters into the
	// executable artifact.
	Materialize []string `yaml:"materialize"`

	// Run executes the artifact and writes the result.
	Run []string `yaml:"run"`
}

// Config is the full runner configuration.
type Config struct {
	// DataDir is the managed root whose file events drive scheduling.
	DataDir string `yaml:"data_dir"`

	// StateDir holds the patterns/ and recipes/ definition directories.
	StateDir string `yaml:"state_dir"`

	// JobsDir holds one directory per job.
	JobsDir string `yaml:"jobs_dir"`

	// Workers is the size of the worker pool.
	Workers int `yaml:"workers"`

	// WorkerCapabilities lists the capability set advertised by each worker,
	// by index. Workers past the end of the list advertise none.
	WorkerCapabilities [][]string `yaml:"worker_capabilities"`

	// StartWorkers starts the pool as soon as the runner is up.
	StartWorkers bool `yaml:"start_workers"`

	// RetroActive schedules jobs for files that already match a rule when the
	// rule is created.
	RetroActive bool `yaml:"retro_active"`

	// Debounce collapses repeated hits of the same path and rule.
	Debounce time.Duration `yaml:"debounce"`

	// PollInterval is how long an idle worker waits before asking again.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollJitter is added to PollInterval once per (worker index mod 10), so
	// idle workers do not poll in lockstep.
	PollJitter time.Duration `yaml:"poll_jitter"`

	Executor ExecutorConfig `yaml:"executor"`

	// LedgerPath enables the SQLite job ledger when non-empty.
	LedgerPath string `yaml:"ledger"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		StateDir:     DefaultStateDir,
		JobsDir:      DefaultJobsDir,
		Workers:      DefaultWorkers,
		RetroActive:  true,
		Debounce:     DefaultDebounce,
		PollInterval: DefaultPollInterval,
		PollJitter:   DefaultPollJitter,
		Executor: ExecutorConfig{
			Materialize: []string{"notebook_parameterizer", ArgBase, ArgParams, "-o", ArgJob},
			Run:         []string{"papermill", ArgJob, ArgResult},
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected. An
// empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Capabilities returns the capability set advertised by worker i.
func (c Config) Capabilities(i int) []string {
	if i < 0 || i >= len(c.WorkerCapabilities) {
		return nil
	}
	return c.WorkerCapabilities[i]
}

// IdleWait returns how long worker i sleeps when the queue has nothing for
// it.
func (c Config) IdleWait(i int) time.Duration {
	return c.PollInterval + time.Duration(i%10)*c.PollJitter
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir is required")
	}
	if strings.TrimSpace(c.StateDir) == "" {
		problems = append(problems, "state_dir is required")
	}
	if strings.TrimSpace(c.JobsDir) == "" {
		problems = append(problems, "jobs_dir is required")
	}
	if c.Workers < 0 {
		problems = append(problems, fmt.Sprintf("workers must not be negative, got %d", c.Workers))
	}
	if len(c.WorkerCapabilities) > c.Workers && c.Workers >= 0 {
		problems = append(problems, fmt.Sprintf("worker_capabilities lists %d workers but only %d are configured", len(c.WorkerCapabilities), c.Workers))
	}
	if c.Debounce < 0 {
		problems = append(problems, "debounce must not be negative")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}
	if c.PollJitter < 0 {
		problems = append(problems, "poll_jitter must not be negative")
	}
	if len(c.Executor.Materialize) == 0 {
		problems = append(problems, "executor.materialize must name a command")
	}
	if len(c.Executor.Run) == 0 {
		problems = append(problems, "executor.run must name a command")
	}
	if c.DataDir != "" && c.JobsDir != "" && within(c.JobsDir, c.DataDir) {
		problems = append(problems, "jobs_dir must not be inside data_dir")
	}
	if c.DataDir != "" && c.StateDir != "" && within(c.StateDir, c.DataDir) {
		problems = append(problems, "state_dir must not be inside data_dir")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	p, err1 := filepath.Abs(path)
	d, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
