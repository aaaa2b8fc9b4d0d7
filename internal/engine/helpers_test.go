package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/job"
)

// recordingLedger keeps ledger calls in memory.
type recordingLedger struct {
	mu      sync.Mutex
	jobs    []string
	entries []ledgerEntry
}

type ledgerEntry struct {
	seq    int64
	jobID  string
	status job.Status
	err    string
}

func (l *recordingLedger) RecordJob(_ context.Context, seq int64, j *job.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append(l.jobs, j.ID)
	l.entries = append(l.entries, ledgerEntry{seq: seq, jobID: j.ID, status: job.StatusQueued})
	return nil
}

func (l *recordingLedger) RecordTransition(_ context.Context, seq int64, jobID string, status job.Status, _ time.Time, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ledgerEntry{seq: seq, jobID: jobID, status: status, err: errMsg})
	return nil
}

func (l *recordingLedger) statuses(jobID string) []job.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []job.Status
	for _, e := range l.entries {
		if e.jobID == jobID {
			out = append(out, e.status)
		}
	}
	return out
}

// copyExecutor materializes by copying base to job and runs by copying job
// to result, like an identity recipe.
func copyExecutor() FuncExecutor {
	return FuncExecutor{
		MaterializeFunc: func(_ context.Context, f JobFiles) error {
			return copyFile(f.Base, f.Job)
		},
		RunFunc: func(_ context.Context, f JobFiles) error {
			return copyFile(f.Job, f.Result)
		},
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// createQueuedJob writes a queued job directory and returns its id.
func createQueuedJob(t *testing.T, s *job.Store, id string, requirements ...string) string {
	t.Helper()
	j := job.New(id, "copy", "identity", "rule-1", "start/a.txt", requirements, time.Now())
	require.NoError(t, s.Create(j, map[string]any{"cells": []any{}}, map[string]any{"infile": "/data/start/a.txt"}))
	return id
}

func loadStatus(s *job.Store, id string) job.Status {
	j, err := s.Load(id)
	if err != nil {
		return ""
	}
	return j.Status
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe for a logger written from another
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
