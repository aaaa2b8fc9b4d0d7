package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/meow/internal/job"
)

// WorkerState is what a worker reports when checked.
type WorkerState string

const (
	// WorkerStopped workers are alive but do not ask for work.
	WorkerStopped WorkerState = "stopped"
	// WorkerRunning workers poll the queue and process jobs.
	WorkerRunning WorkerState = "running"
	// WorkerDead workers have exited.
	WorkerDead WorkerState = "dead"
)

type workerCmd int

const (
	cmdStart workerCmd = iota + 1
	cmdStop
	cmdKill
)

// Worker processes one job at a time.
//
// A running worker asks the queue for work; when there is none it hands
// its idle wait to a paired Timer and keeps listening for control
// messages. A job handed out by the queue is owned by this worker until it
// reaches a terminal status. Stop and Kill take effect between jobs, never
// during one.
type Worker struct {
	name   string
	caps   []string
	idle   time.Duration
	queue  *JobQueue
	jobs   *job.Store
	exec   Executor
	timer  *Timer
	ledger *ledgerRecorder
	now    func() time.Time
	logger *slog.Logger

	control chan workerCmd
	state   atomic.Value // WorkerState
	done    chan struct{}
}

type workerParams struct {
	name   string
	caps   []string
	idle   time.Duration
	queue  *JobQueue
	jobs   *job.Store
	exec   Executor
	ledger *ledgerRecorder
	now    func() time.Time
	logger *slog.Logger
}

func newWorker(p workerParams) *Worker {
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.now
	if now == nil {
		now = time.Now
	}
	w := &Worker{
		name:    p.name,
		caps:    normalizeCapabilities(p.caps),
		idle:    p.idle,
		queue:   p.queue,
		jobs:    p.jobs,
		exec:    p.exec,
		timer:   NewTimer(logger.With("worker", p.name)),
		ledger:  p.ledger,
		now:     now,
		logger:  logger.With("component", "worker", "worker", p.name),
		control: make(chan workerCmd, 8),
		done:    make(chan struct{}),
	}
	w.state.Store(WorkerStopped)
	return w
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// Capabilities returns the normalized capability set the worker advertises.
func (w *Worker) Capabilities() []string { return w.caps }

// State reports the worker's current state. Safe from any goroutine.
func (w *Worker) State() WorkerState {
	return w.state.Load().(WorkerState)
}

// Done is closed when Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Start makes the worker poll for jobs.
func (w *Worker) Start() { w.send(cmdStart) }

// Stop halts polling once any job in flight has finished.
func (w *Worker) Stop() { w.send(cmdStop) }

// Kill makes Run return once any job in flight has finished.
func (w *Worker) Kill() { w.send(cmdKill) }

func (w *Worker) send(cmd workerCmd) {
	select {
	case w.control <- cmd:
	case <-w.done:
	}
}

// Run is the worker's loop. It returns nil when killed, or the context's
// error when cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.state.Store(WorkerDead)

	timerCtx, cancelTimer := context.WithCancel(ctx)
	defer cancelTimer()
	go w.timer.Run(timerCtx)
	defer w.timer.Kill()

	w.logger.Debug("worker ready", "capabilities", w.caps)
	for {
		if w.drainControl() {
			return nil
		}

		if w.State() == WorkerRunning {
			id, ok, err := w.queue.Request(ctx, w.name, w.caps)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrQueueStopped):
				w.logger.Warn("job queue stopped; worker exiting")
				return nil
			case err != nil:
				w.logger.Error("request work", "error", err)
			case ok:
				w.process(ctx, id)
				continue
			}
		}

		var wake <-chan TimerReply
		if w.State() == WorkerRunning {
			wake = w.timer.Sleep(w.idle)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-w.control:
			if w.apply(cmd) {
				return nil
			}
		case <-wake:
		}
	}
}

// drainControl applies every queued control message and reports whether
// one of them was a kill.
func (w *Worker) drainControl() bool {
	for {
		select {
		case cmd := <-w.control:
			if w.apply(cmd) {
				return true
			}
		default:
			return false
		}
	}
}

func (w *Worker) apply(cmd workerCmd) (exit bool) {
	switch cmd {
	case cmdStart:
		if w.State() != WorkerRunning {
			w.state.Store(WorkerRunning)
			w.logger.Info("worker started")
		}
	case cmdStop:
		if w.State() != WorkerStopped {
			w.state.Store(WorkerStopped)
			w.logger.Info("worker stopped")
		}
	case cmdKill:
		w.logger.Info("worker killed")
		return true
	}
	return false
}

// process runs job id to a terminal status. Every failure is recorded on
// the job; nothing is returned to the caller.
func (w *Worker) process(ctx context.Context, id string) {
	logger := w.logger.With("job_id", id)

	j, err := w.jobs.Load(id)
	if err != nil {
		// The id has left the queue and its metadata cannot be read, so no
		// status can be recorded for it.
		logger.Error("job lost: metadata unreadable after dequeue", "error", err)
		return
	}
	if err := w.advance(ctx, j, job.StatusRunning, ""); err != nil {
		logger.Error("start job", "error", err)
		w.abandon(ctx, j, fmt.Sprintf("Job could not be started: %v", err))
		return
	}
	logger.Info("job running", "pattern", j.Pattern, "recipe", j.Recipe, "path", j.Path)

	errMsg := w.execute(ctx, FilesFor(w.jobs, id))
	status := job.StatusDone
	if errMsg != "" {
		status = job.StatusFailed
	}
	if err := w.advance(ctx, j, status, errMsg); err != nil {
		logger.Error("finish job", "error", err)
		return
	}
	if status == job.StatusFailed {
		logger.Warn("job failed", "error", errMsg)
	} else {
		logger.Info("job done")
	}
}

// abandon records a failure for a dequeued job whose start could not be
// saved. A job that never reached running in memory, or whose failure cannot
// be saved either, is logged as lost.
func (w *Worker) abandon(ctx context.Context, j *job.Job, errMsg string) {
	if j.Status != job.StatusRunning {
		w.logger.Error("job lost: not startable", "job_id", j.ID, "status", j.Status)
		return
	}
	if err := w.advance(ctx, j, job.StatusFailed, errMsg); err != nil {
		w.logger.Error("job lost: could not record failure", "job_id", j.ID, "error", err)
	}
}

func (w *Worker) advance(ctx context.Context, j *job.Job, to job.Status, errMsg string) error {
	if err := j.Transition(to, w.now(), errMsg); err != nil {
		return err
	}
	if err := w.jobs.Save(j); err != nil {
		return err
	}
	w.ledger.transitioned(ctx, j)
	return nil
}

// execute runs both external steps and returns the failure message, or ""
// on success.
func (w *Worker) execute(ctx context.Context, f JobFiles) string {
	if err := w.exec.Materialize(ctx, f); err != nil {
		return fmt.Sprintf("Job file %s could not be created: %v", f.Job, err)
	}
	if !w.jobs.Exists(f.ID, job.JobFile) {
		return fmt.Sprintf("Job file %s was not created successfully", f.Job)
	}
	if err := w.exec.Run(ctx, f); err != nil {
		return fmt.Sprintf("Result file %s could not be created: %v", f.Result, err)
	}
	if !w.jobs.Exists(f.ID, job.ResultFile) {
		return fmt.Sprintf("Result file %s was not created successfully", f.Result)
	}
	return ""
}
