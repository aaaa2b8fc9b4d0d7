package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/job"
	"github.com/roach88/meow/internal/testutil"
)

type workerFixture struct {
	ctx    context.Context
	queue  *JobQueue
	jobs   *job.Store
	worker *Worker
	ledger *recordingLedger
}

func newWorkerFixture(t *testing.T, exec Executor, caps ...string) *workerFixture {
	t.Helper()
	return newLoggedWorkerFixture(t, exec, testLogger(), caps...)
}

func newLoggedWorkerFixture(t *testing.T, exec Executor, logger *slog.Logger, caps ...string) *workerFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	jobs, err := job.NewStore(t.TempDir())
	require.NoError(t, err)

	q := NewJobQueue(nil)
	go q.Run(ctx)

	l := &recordingLedger{}
	w := newWorker(workerParams{
		name:   "worker-0",
		caps:   caps,
		idle:   5 * time.Millisecond,
		queue:  q,
		jobs:   jobs,
		exec:   exec,
		ledger: newLedgerRecorder(l, testLogger()),
		logger: logger,
	})
	go w.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-w.Done()
		<-q.Done()
	})
	return &workerFixture{ctx: ctx, queue: q, jobs: jobs, worker: w, ledger: l}
}

func TestWorker_ProcessesJobToDone(t *testing.T) {
	f := newWorkerFixture(t, copyExecutor())
	id := createQueuedJob(t, f.jobs, "j1")
	require.NoError(t, f.queue.Enqueue(f.ctx, id, nil))

	f.worker.Start()

	testutil.Eventually(t, func() bool { return loadStatus(f.jobs, id) == job.StatusDone })

	j, err := f.jobs.Load(id)
	require.NoError(t, err)
	assert.NotNil(t, j.Start)
	assert.NotNil(t, j.End)
	assert.Empty(t, j.Error)
	assert.True(t, f.jobs.Exists(id, job.ResultFile))
	assert.Equal(t, []job.Status{job.StatusRunning, job.StatusDone}, f.ledger.statuses(id))
}

func TestWorker_FailuresAreRecorded(t *testing.T) {
	tests := []struct {
		name    string
		exec    FuncExecutor
		message string
	}{
		{
			name:    "job file missing",
			exec:    FuncExecutor{},
			message: "Job file",
		},
		{
			name: "result file missing",
			exec: FuncExecutor{
				MaterializeFunc: copyExecutor().MaterializeFunc,
			},
			message: "Result file",
		},
		{
			name: "run error",
			exec: FuncExecutor{
				MaterializeFunc: copyExecutor().MaterializeFunc,
				RunFunc: func(context.Context, JobFiles) error {
					return errors.New("kernel died")
				},
			},
			message: "kernel died",
		},
		{
			name: "materialize error",
			exec: FuncExecutor{
				MaterializeFunc: func(context.Context, JobFiles) error {
					return errors.New("bad parameter")
				},
			},
			message: "bad parameter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkerFixture(t, tt.exec)
			id := createQueuedJob(t, f.jobs, "j1")
			require.NoError(t, f.queue.Enqueue(f.ctx, id, nil))
			f.worker.Start()

			testutil.Eventually(t, func() bool { return loadStatus(f.jobs, id) == job.StatusFailed })

			j, err := f.jobs.Load(id)
			require.NoError(t, err)
			assert.Contains(t, j.Error, tt.message)
			assert.NotNil(t, j.End)
		})
	}
}

func TestWorker_StoppedWorkerTakesNoJobs(t *testing.T) {
	f := newWorkerFixture(t, copyExecutor())
	id := createQueuedJob(t, f.jobs, "j1")
	require.NoError(t, f.queue.Enqueue(f.ctx, id, nil))

	assert.Equal(t, WorkerStopped, f.worker.State())
	testutil.Never(t, func() bool { return loadStatus(f.jobs, id) != job.StatusQueued }, 100*time.Millisecond)

	f.worker.Start()
	testutil.Eventually(t, func() bool { return loadStatus(f.jobs, id) == job.StatusDone })
}

func TestWorker_StartStopKill(t *testing.T) {
	f := newWorkerFixture(t, copyExecutor())

	f.worker.Start()
	testutil.Eventually(t, func() bool { return f.worker.State() == WorkerRunning })

	f.worker.Stop()
	testutil.Eventually(t, func() bool { return f.worker.State() == WorkerStopped })

	f.worker.Kill()
	select {
	case <-f.worker.Done():
	case <-time.After(testutil.WaitTimeout):
		t.Fatal("worker did not exit after kill")
	}
	assert.Equal(t, WorkerDead, f.worker.State())

	// Control after death does not block.
	f.worker.Start()
}

func TestWorker_IdleWorkerPicksUpLaterJob(t *testing.T) {
	f := newWorkerFixture(t, copyExecutor())
	f.worker.Start()
	testutil.Eventually(t, func() bool { return f.worker.State() == WorkerRunning })

	// Let the worker go idle at least once first.
	time.Sleep(20 * time.Millisecond)

	id := createQueuedJob(t, f.jobs, "j1")
	require.NoError(t, f.queue.Enqueue(f.ctx, id, nil))
	testutil.Eventually(t, func() bool { return loadStatus(f.jobs, id) == job.StatusDone })
}

func TestWorker_CapabilitiesGateAssignment(t *testing.T) {
	f := newWorkerFixture(t, copyExecutor(), "cpu")
	gpu := createQueuedJob(t, f.jobs, "gpu-job", "gpu")
	cpu := createQueuedJob(t, f.jobs, "cpu-job", "CPU")
	require.NoError(t, f.queue.Enqueue(f.ctx, gpu, []string{"gpu"}))
	require.NoError(t, f.queue.Enqueue(f.ctx, cpu, []string{"CPU"}))

	f.worker.Start()
	testutil.Eventually(t, func() bool { return loadStatus(f.jobs, cpu) == job.StatusDone })

	assert.Equal(t, job.StatusQueued, loadStatus(f.jobs, gpu))
	pending, err := f.queue.Snapshot(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{gpu}, pending)
}

func TestPool_StatusAndCheck(t *testing.T) {
	a := newWorkerFixture(t, copyExecutor())
	b := newWorkerFixture(t, copyExecutor())
	p := newPool([]*Worker{a.worker, b.worker})

	running, total := p.Status()
	assert.Equal(t, 0, running)
	assert.Equal(t, 2, total)

	p.StartAll()
	testutil.Eventually(t, func() bool { r, _ := p.Status(); return r == 2 })

	ok, msg := p.Check()
	assert.True(t, ok)
	assert.Empty(t, msg)

	b.worker.Kill()
	<-b.worker.Done()
	ok, msg = p.Check()
	assert.False(t, ok)
	assert.Contains(t, msg, "worker-0")

	p.KillAll()
	require.NoError(t, p.Wait(context.Background()))
}

func TestWorker_UnstartableJobsAreLoggedAndSkipped(t *testing.T) {
	logs := &syncBuffer{}
	f := newLoggedWorkerFixture(t, copyExecutor(), slog.New(slog.NewTextHandler(logs, nil)))

	garbled := createQueuedJob(t, f.jobs, "garbled")
	require.NoError(t, os.WriteFile(f.jobs.Path(garbled, job.MetaFile), []byte("status: [\n"), 0o644))

	finished := createQueuedJob(t, f.jobs, "finished")
	j, err := f.jobs.Load(finished)
	require.NoError(t, err)
	require.NoError(t, j.Transition(job.StatusRunning, time.Now(), ""))
	require.NoError(t, j.Transition(job.StatusDone, time.Now(), ""))
	require.NoError(t, f.jobs.Save(j))

	good := createQueuedJob(t, f.jobs, "good")
	for _, id := range []string{garbled, finished, good} {
		require.NoError(t, f.queue.Enqueue(f.ctx, id, nil))
	}

	f.worker.Start()
	testutil.Eventually(t, func() bool { return loadStatus(f.jobs, good) == job.StatusDone })

	out := logs.String()
	assert.Contains(t, out, "job lost: metadata unreadable after dequeue")
	assert.Contains(t, out, "job_id=garbled")
	assert.Contains(t, out, "job lost: not startable")
	assert.Contains(t, out, "job_id=finished")
	assert.Equal(t, job.StatusDone, loadStatus(f.jobs, finished))
	assert.Equal(t, []job.Status{job.StatusRunning, job.StatusDone}, f.ledger.statuses(good))
	assert.Empty(t, f.ledger.statuses(finished))
}
