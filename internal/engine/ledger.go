package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/meow/internal/job"
)

// Ledger receives an append-only record of job scheduling and status
// changes. Implemented by store.Store.
type Ledger interface {
	RecordJob(ctx context.Context, seq int64, j *job.Job) error
	RecordTransition(ctx context.Context, seq int64, jobID string, status job.Status, at time.Time, errMsg string) error
}

// ledgerRecorder stamps every ledger write with the next sequence number.
// The administrator and the workers write concurrently and may do so within
// the same wall-clock instant, so entries are ordered by seq alone.
//
// Failures are logged and never affect the job: the job directory is the
// source of truth. A nil recorder or one without a ledger records nothing.
type ledgerRecorder struct {
	ledger Ledger
	seq    atomic.Int64
	logger *slog.Logger
}

func newLedgerRecorder(l Ledger, logger *slog.Logger) *ledgerRecorder {
	return &ledgerRecorder{ledger: l, logger: logger}
}

// resumeAfter makes the next entry follow last, the highest seq already in
// the ledger.
func (l *ledgerRecorder) resumeAfter(last int64) {
	l.seq.Store(last)
}

func (l *ledgerRecorder) next() int64 {
	return l.seq.Add(1)
}

func (l *ledgerRecorder) scheduled(ctx context.Context, j *job.Job) {
	if l == nil || l.ledger == nil {
		return
	}
	if err := l.ledger.RecordJob(ctx, l.next(), j); err != nil {
		l.logger.Error("ledger: record job", "job_id", j.ID, "error", err)
	}
}

func (l *ledgerRecorder) transitioned(ctx context.Context, j *job.Job) {
	if l == nil || l.ledger == nil {
		return
	}
	at := j.Create
	switch {
	case j.Status.Terminal() && j.End != nil:
		at = *j.End
	case j.Status == job.StatusRunning && j.Start != nil:
		at = *j.Start
	}
	if err := l.ledger.RecordTransition(ctx, l.next(), j.ID, j.Status, at, j.Error); err != nil {
		l.logger.Error("ledger: record transition", "job_id", j.ID, "status", j.Status, "error", err)
	}
}
