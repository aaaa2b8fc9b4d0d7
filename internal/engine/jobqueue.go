package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
)

// ErrQueueStopped is returned by JobQueue methods once its Run loop has
// exited.
var ErrQueueStopped = errors.New("job queue stopped")

// JobQueue holds the ids of jobs waiting for a worker, oldest first.
//
// All state is owned by the Run goroutine. The administrator and the
// workers talk to it through the exported methods, each of which is one
// request/reply exchange over the inbox.
//
// A worker asking for work is handed the oldest job whose requirements its
// advertised capabilities satisfy. A job no registered worker can satisfy
// stays queued and is reported once in the log.
type JobQueue struct {
	inbox  chan queueMsg
	done   chan struct{}
	logger *slog.Logger

	// Owned by Run.
	pending []pendingJob
	workers map[string][]string
	warned  map[string]bool
}

type pendingJob struct {
	id           string
	requirements []string
}

type queueOp int

const (
	queueEnqueue queueOp = iota + 1
	queueSnapshot
	queueRequest
	queueRegister
	queueClear
)

type queueMsg struct {
	op     queueOp
	job    pendingJob
	worker string
	caps   []string
	reply  chan queueReply
}

type queueReply struct {
	id  string
	ok  bool
	ids []string
}

// NewJobQueue creates an empty queue. Run must be started before any other
// method is called.
func NewJobQueue(logger *slog.Logger) *JobQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		inbox:   make(chan queueMsg),
		done:    make(chan struct{}),
		logger:  logger.With("component", "queue"),
		workers: make(map[string][]string),
		warned:  make(map[string]bool),
	}
}

// Run serves queue requests until ctx is cancelled.
func (q *JobQueue) Run(ctx context.Context) error {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("job queue stopping", "pending", len(q.pending))
			return ctx.Err()
		case msg := <-q.inbox:
			msg.reply <- q.handle(msg)
		}
	}
}

// Done is closed when Run has returned.
func (q *JobQueue) Done() <-chan struct{} {
	return q.done
}

func (q *JobQueue) handle(msg queueMsg) queueReply {
	switch msg.op {
	case queueEnqueue:
		msg.job.requirements = normalizeCapabilities(msg.job.requirements)
		q.pending = append(q.pending, msg.job)
		q.logger.Debug("job queued", "job_id", msg.job.id, "pending", len(q.pending))
		q.warnUnsatisfiable(msg.job)
		return queueReply{ok: true}

	case queueSnapshot:
		return queueReply{ok: true, ids: q.ids()}

	case queueRegister:
		q.workers[msg.worker] = normalizeCapabilities(msg.caps)
		for _, j := range q.pending {
			q.warnUnsatisfiable(j)
		}
		return queueReply{ok: true}

	case queueRequest:
		return q.assign(msg.worker, normalizeCapabilities(msg.caps))

	case queueClear:
		ids := q.ids()
		q.pending = nil
		q.warned = make(map[string]bool)
		return queueReply{ok: true, ids: ids}
	}
	return queueReply{}
}

// assign pops the first job, in queue order, that caps satisfies.
func (q *JobQueue) assign(worker string, caps []string) queueReply {
	for i, j := range q.pending {
		if !satisfies(caps, j.requirements) {
			continue
		}
		q.pending = slices.Delete(q.pending, i, i+1)
		delete(q.warned, j.id)
		q.logger.Info("job assigned", "job_id", j.id, "worker", worker, "pending", len(q.pending))
		return queueReply{id: j.id, ok: true}
	}
	if len(q.pending) > 0 {
		q.logger.Debug("no queued job fits worker",
			"worker", worker,
			"capabilities", strings.Join(caps, ","),
			"pending", len(q.pending),
		)
	}
	return queueReply{}
}

func (q *JobQueue) warnUnsatisfiable(j pendingJob) {
	if q.warned[j.id] || len(q.workers) == 0 {
		return
	}
	for _, caps := range q.workers {
		if satisfies(caps, j.requirements) {
			return
		}
	}
	q.warned[j.id] = true
	q.logger.Warn("no worker can satisfy job requirements; job stays queued",
		"job_id", j.id,
		"requirements", strings.Join(j.requirements, ","),
	)
}

func (q *JobQueue) ids() []string {
	ids := make([]string, len(q.pending))
	for i, j := range q.pending {
		ids[i] = j.id
	}
	return ids
}

func (q *JobQueue) call(ctx context.Context, msg queueMsg) (queueReply, error) {
	msg.reply = make(chan queueReply, 1)
	select {
	case q.inbox <- msg:
	case <-q.done:
		return queueReply{}, ErrQueueStopped
	case <-ctx.Done():
		return queueReply{}, ctx.Err()
	}
	select {
	case r := <-msg.reply:
		return r, nil
	case <-q.done:
		// Run may have replied just before exiting.
		select {
		case r := <-msg.reply:
			return r, nil
		default:
			return queueReply{}, ErrQueueStopped
		}
	case <-ctx.Done():
		return queueReply{}, ctx.Err()
	}
}

// Enqueue appends a job id with the requirements a worker must satisfy.
func (q *JobQueue) Enqueue(ctx context.Context, id string, requirements []string) error {
	_, err := q.call(ctx, queueMsg{
		op:  queueEnqueue,
		job: pendingJob{id: id, requirements: slices.Clone(requirements)},
	})
	return err
}

// Snapshot returns the pending ids, oldest first.
func (q *JobQueue) Snapshot(ctx context.Context) ([]string, error) {
	r, err := q.call(ctx, queueMsg{op: queueSnapshot})
	return r.ids, err
}

// Register records the capability set of a worker so unsatisfiable jobs can
// be reported.
func (q *JobQueue) Register(ctx context.Context, worker string, caps []string) error {
	_, err := q.call(ctx, queueMsg{op: queueRegister, worker: worker, caps: slices.Clone(caps)})
	return err
}

// Request asks for work on behalf of worker. ok is false when nothing
// queued fits caps. A returned id has left the queue and belongs to the
// caller.
func (q *JobQueue) Request(ctx context.Context, worker string, caps []string) (id string, ok bool, err error) {
	r, err := q.call(ctx, queueMsg{op: queueRequest, worker: worker, caps: caps})
	return r.id, r.ok, err
}

// Clear drops every pending id and returns them.
func (q *JobQueue) Clear(ctx context.Context) ([]string, error) {
	r, err := q.call(ctx, queueMsg{op: queueClear})
	return r.ids, err
}
