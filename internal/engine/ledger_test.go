package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/job"
)

func TestLedgerRecorder_ResumesAfterLastSeq(t *testing.T) {
	l := &recordingLedger{}
	rec := newLedgerRecorder(l, testLogger())
	rec.resumeAfter(41)

	j := job.New("job-1", "p", "r", "rule-1", "in/a.txt", nil, time.Unix(0, 0))
	rec.scheduled(context.Background(), j)
	require.NoError(t, j.Transition(job.StatusRunning, time.Unix(1, 0), ""))
	rec.transitioned(context.Background(), j)

	require.Len(t, l.entries, 2)
	assert.Equal(t, int64(42), l.entries[0].seq)
	assert.Equal(t, int64(43), l.entries[1].seq)
}

func TestLedgerRecorder_ConcurrentSeqIsUnique(t *testing.T) {
	rec := newLedgerRecorder(&recordingLedger{}, testLogger())
	const goroutines, calls = 8, 250

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				seq := rec.next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
}

type failingLedger struct{}

func (failingLedger) RecordJob(context.Context, int64, *job.Job) error {
	return errors.New("disk full")
}

func (failingLedger) RecordTransition(context.Context, int64, string, job.Status, time.Time, string) error {
	return errors.New("disk full")
}

func TestLedgerRecorder_FailuresDoNotPropagate(t *testing.T) {
	rec := newLedgerRecorder(failingLedger{}, testLogger())
	j := job.New("job-1", "p", "r", "rule-1", "in/a.txt", nil, time.Unix(0, 0))

	assert.NotPanics(t, func() {
		rec.scheduled(context.Background(), j)
		rec.transitioned(context.Background(), j)
	})
}

func TestLedgerRecorder_NilRecordsNothing(t *testing.T) {
	var rec *ledgerRecorder
	j := job.New("job-1", "p", "r", "rule-1", "in/a.txt", nil, time.Unix(0, 0))
	assert.NotPanics(t, func() {
		rec.scheduled(context.Background(), j)
		rec.transitioned(context.Background(), j)
	})
}
