package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/roach88/meow/internal/config"
	"github.com/roach88/meow/internal/job"
	"github.com/roach88/meow/internal/model"
	"github.com/roach88/meow/internal/monitor"
	"github.com/roach88/meow/internal/store"
)

// liveness tracks whether a component's goroutine is still running.
type liveness struct {
	name  string
	alive atomic.Bool
}

func (l *liveness) Alive() bool { return l.alive.Load() }

// Runner wires the monitors, the administrator, the job queue and the
// worker pool together and is the embedding application's handle on them.
//
// Every method other than Start and Wait is one request to the
// administrator; once the administrator has exited they return a
// RUNNER_STOPPED RuntimeError.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	admin  *Administrator
	queue  *JobQueue
	pool   *Pool
	files  *monitor.FileMonitor
	state  *monitor.StateMonitor
	closer func() error

	liveQueue *liveness
	liveFiles *liveness
	liveState *liveness

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errMu   sync.Mutex
	err     error
	done    chan struct{}
}

// New builds a runner from cfg. Directories are resolved to absolute paths
// and created if missing. Nothing runs until Start.
func New(cfg config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	root, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	stateDir, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}
	if err := monitor.EnsureStateDirs(stateDir); err != nil {
		return nil, err
	}
	jobs, err := job.NewStore(cfg.JobsDir)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		logger:    o.logger,
		liveQueue: &liveness{name: "Job Queue"},
		liveFiles: &liveness{name: "Workflow Monitor"},
		liveState: &liveness{name: "State Monitor"},
		closer:    func() error { return nil },
		done:      make(chan struct{}),
	}

	ledger, err := r.openLedger(o)
	if err != nil {
		return nil, err
	}

	executor := o.executor
	if executor == nil {
		executor = NewCommandExecutor(cfg.Executor, root, o.logger)
	}

	r.queue = NewJobQueue(o.logger)
	workers := make([]*Worker, cfg.Workers)
	for i := range workers {
		workers[i] = newWorker(workerParams{
			name:   fmt.Sprintf("worker-%d", i),
			caps:   cfg.Capabilities(i),
			idle:   cfg.IdleWait(i),
			queue:  r.queue,
			jobs:   jobs,
			exec:   executor,
			ledger: ledger,
			now:    o.now,
			logger: o.logger,
		})
	}
	r.pool = newPool(workers)

	r.admin = newAdministrator(adminParams{
		root:     root,
		stateDir: stateDir,
		retro:    cfg.RetroActive,
		debounce: cfg.Debounce,
		jobs:     jobs,
		queue:    r.queue,
		pool:     r.pool,
		ids:      o.ids,
		now:      o.now,
		logger:   o.logger,
		ledger:   ledger,
		health:   []*liveness{r.liveFiles, r.liveState, r.liveQueue},
	})

	monOpts := []monitor.Option{monitor.WithLogger(o.logger), monitor.WithClock(o.now)}
	r.state, err = monitor.NewStateMonitor(stateDir, func(ev monitor.StateEvent) {
		r.admin.stateEvents.Enqueue(ev)
	}, monOpts...)
	if err != nil {
		r.closer()
		return nil, err
	}
	r.files, err = monitor.NewFileMonitor(root, func(ev monitor.FileEvent) {
		r.admin.fileEvents.Enqueue(ev)
	}, monOpts...)
	if err != nil {
		r.closer()
		return nil, err
	}
	return r, nil
}

// openLedger returns the recorder for the configured ledger, resuming the
// sequence after the last recorded entry.
func (r *Runner) openLedger(o options) (*ledgerRecorder, error) {
	rec := newLedgerRecorder(o.ledger, o.logger.With("component", "ledger"))
	if o.ledger != nil || r.cfg.LedgerPath == "" {
		return rec, nil
	}
	s, err := store.Open(r.cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	seq, err := s.MaxSeq(context.Background())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	rec.ledger = s
	rec.resumeAfter(seq)
	r.closer = s.Close
	return rec, nil
}

// Start launches every component and returns once both monitors are
// watching. The state monitor starts first so existing definitions are
// loaded, and retroactive jobs scheduled, before live data events arrive.
//
// The runner stops when the administrator exits: after a StopRunner or
// Kill request, or when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runner already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.spawn(ctx, r.liveQueue, r.queue.Run)
	for _, w := range r.pool.Workers() {
		if err := r.queue.Register(ctx, w.Name(), w.Capabilities()); err != nil {
			r.cancel()
			r.wg.Wait()
			r.closer()
			close(r.done)
			return fmt.Errorf("register %s: %w", w.Name(), err)
		}
		r.spawn(ctx, nil, w.Run)
	}
	r.spawn(ctx, nil, r.admin.Run)
	go r.supervise()

	stateReady := make(chan struct{})
	r.spawn(ctx, r.liveState, func(ctx context.Context) error { return r.state.Run(ctx, stateReady) })
	if err := r.awaitReady(ctx, stateReady, r.liveState); err != nil {
		return err
	}
	fileReady := make(chan struct{})
	r.spawn(ctx, r.liveFiles, func(ctx context.Context) error { return r.files.Run(ctx, fileReady) })
	if err := r.awaitReady(ctx, fileReady, r.liveFiles); err != nil {
		return err
	}

	if r.cfg.StartWorkers {
		if _, err := r.StartWorkers(ctx); err != nil {
			return err
		}
	}
	r.logger.Info("runner started", "root", r.files.Root(), "workers", len(r.pool.Workers()))
	return nil
}

func (r *Runner) awaitReady(ctx context.Context, ready <-chan struct{}, l *liveness) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}
	r.cancel()
	<-r.done
	if err := r.Err(); err != nil {
		return fmt.Errorf("%s failed to start: %w", l.name, err)
	}
	return ctx.Err()
}

// supervise tears everything down once the administrator has exited.
func (r *Runner) supervise() {
	<-r.admin.Done()
	r.cancel()
	r.wg.Wait()
	r.admin.fileEvents.Close()
	r.admin.stateEvents.Close()
	if err := r.closer(); err != nil {
		r.setErr(fmt.Errorf("close ledger: %w", err))
	}
	r.logger.Info("runner stopped")
	close(r.done)
}

// spawn runs fn on its own goroutine under the runner's wait group. A
// component failing with anything but cancellation is recorded and shuts
// the runner down.
func (r *Runner) spawn(ctx context.Context, l *liveness, fn func(context.Context) error) {
	r.wg.Add(1)
	if l != nil {
		l.alive.Store(true)
	}
	go func() {
		defer r.wg.Done()
		err := fn(ctx)
		if l != nil {
			l.alive.Store(false)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			r.setErr(err)
			r.logger.Error("component failed", "error", err)
			r.cancel()
		}
	}()
}

func (r *Runner) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first component failure, if any.
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Done is closed once every component has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the runner has stopped and returns the first component
// failure, if any.
func (r *Runner) Wait() error {
	<-r.done
	return r.Err()
}

func (r *Runner) request(ctx context.Context, kind RequestKind, payload any) (any, error) {
	reply := make(chan Response, 1)
	select {
	case r.admin.requests <- Request{Kind: kind, Payload: payload, Reply: reply}:
	case <-r.admin.Done():
		return nil, newStoppedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-reply:
		return resp.Value, resp.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func requestAs[T any](ctx context.Context, r *Runner, kind RequestKind, payload any) (T, error) {
	v, err := r.request(ctx, kind, payload)
	out, _ := v.(T)
	return out, err
}

// StartWorkers starts every worker polling for jobs.
func (r *Runner) StartWorkers(ctx context.Context) (bool, error) {
	return requestAs[bool](ctx, r, ReqStartWorkers, nil)
}

// StopWorkers stops every worker from polling. Jobs in flight finish.
func (r *Runner) StopWorkers(ctx context.Context) (bool, error) {
	return requestAs[bool](ctx, r, ReqStopWorkers, nil)
}

// RunningStatus reports how many workers are running out of the pool.
func (r *Runner) RunningStatus(ctx context.Context) (RunningStatus, error) {
	return requestAs[RunningStatus](ctx, r, ReqGetRunningStatus, nil)
}

// CheckRunningStatus reports whether every component is alive.
func (r *Runner) CheckRunningStatus(ctx context.Context) (HealthStatus, error) {
	return requestAs[HealthStatus](ctx, r, ReqCheckRunningStatus, nil)
}

// StopRunner waits for the workers' current jobs, optionally removes every
// job directory this runner created, and shuts the runner down.
func (r *Runner) StopRunner(ctx context.Context, clearJobs bool) (bool, error) {
	return requestAs[bool](ctx, r, ReqStopRunner, clearJobs)
}

// Kill shuts the runner down without waiting for workers.
func (r *Runner) Kill(ctx context.Context) (bool, error) {
	return requestAs[bool](ctx, r, ReqKill, nil)
}

// AllJobs returns the ids of every job scheduled, in scheduling order.
func (r *Runner) AllJobs(ctx context.Context) ([]string, error) {
	return requestAs[[]string](ctx, r, ReqGetAllJobs, nil)
}

// QueuedJobs returns the ids of jobs waiting for a worker.
func (r *Runner) QueuedJobs(ctx context.Context) ([]string, error) {
	return requestAs[[]string](ctx, r, ReqGetQueuedJobs, nil)
}

// InputPaths returns the trigger paths no loaded pattern's output feeds.
func (r *Runner) InputPaths(ctx context.Context) ([]string, error) {
	return requestAs[[]string](ctx, r, ReqGetAllInputPaths, nil)
}

// CheckStatus returns "[running/total] [external input paths]".
func (r *Runner) CheckStatus(ctx context.Context) (string, error) {
	return requestAs[string](ctx, r, ReqCheckStatus, nil)
}

// AddPattern installs a new pattern and writes it to the state directory.
// Re-adding an identical pattern is a no-op.
func (r *Runner) AddPattern(ctx context.Context, p *model.Pattern) (bool, error) {
	return requestAs[bool](ctx, r, ReqAddPattern, p)
}

// ModifyPattern replaces a loaded pattern.
func (r *Runner) ModifyPattern(ctx context.Context, p *model.Pattern) (bool, error) {
	return requestAs[bool](ctx, r, ReqModifyPattern, p)
}

// RemovePattern unloads a pattern, its rules and its definition file.
func (r *Runner) RemovePattern(ctx context.Context, name string) (bool, error) {
	return requestAs[bool](ctx, r, ReqRemovePattern, name)
}

// AddRecipe installs a new recipe and writes it to the state directory.
func (r *Runner) AddRecipe(ctx context.Context, rec *model.Recipe) (bool, error) {
	return requestAs[bool](ctx, r, ReqAddRecipe, rec)
}

// ModifyRecipe replaces a loaded recipe.
func (r *Runner) ModifyRecipe(ctx context.Context, rec *model.Recipe) (bool, error) {
	return requestAs[bool](ctx, r, ReqModifyRecipe, rec)
}

// RemoveRecipe unloads a recipe, its rules and its definition file.
func (r *Runner) RemoveRecipe(ctx context.Context, name string) (bool, error) {
	return requestAs[bool](ctx, r, ReqRemoveRecipe, name)
}

// Patterns returns copies of the loaded patterns.
func (r *Runner) Patterns(ctx context.Context) (map[string]*model.Pattern, error) {
	return requestAs[map[string]*model.Pattern](ctx, r, ReqCheckPatterns, nil)
}

// Recipes returns copies of the loaded recipes.
func (r *Runner) Recipes(ctx context.Context) (map[string]*model.Recipe, error) {
	return requestAs[map[string]*model.Recipe](ctx, r, ReqCheckRecipes, nil)
}

// Rules returns the active rules in creation order.
func (r *Runner) Rules(ctx context.Context) ([]Rule, error) {
	return requestAs[[]Rule](ctx, r, ReqCheckRules, nil)
}

// Jobs returns the metadata of every job this runner scheduled, read from
// the job directories.
func (r *Runner) Jobs(ctx context.Context) ([]*job.Job, error) {
	return requestAs[[]*job.Job](ctx, r, ReqCheckJobs, nil)
}

// Queue returns the ids of jobs waiting for a worker.
func (r *Runner) Queue(ctx context.Context) ([]string, error) {
	return requestAs[[]string](ctx, r, ReqCheckQueue, nil)
}
