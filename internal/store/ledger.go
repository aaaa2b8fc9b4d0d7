package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/meow/internal/job"
)

// Event is one status change recorded in the ledger.
type Event struct {
	ID     int64
	JobID  string
	Seq    int64
	Status job.Status
	At     time.Time
	Error  string
}

// JobRecord is the scheduling record of a job.
type JobRecord struct {
	ID           string
	Pattern      string
	Recipe       string
	Rule         string
	Path         string
	Requirements []string
	Created      time.Time
	Seq          int64
}

// RecordJob inserts the scheduling record of j together with its initial
// queued event. Uses ON CONFLICT DO NOTHING for idempotency - recording the
// same job twice is silently ignored.
func (s *Store) RecordJob(ctx context.Context, seq int64, j *job.Job) error {
	reqs := j.Requirements
	if reqs == nil {
		reqs = []string{}
	}
	reqsJSON, err := json.Marshal(reqs)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record job: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs
		(id, pattern, recipe, rule_id, path, requirements, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		j.ID,
		j.Pattern,
		j.Recipe,
		j.Rule,
		j.Path,
		string(reqsJSON),
		formatTime(j.Create),
		seq,
	)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}

	if err := insertEvent(ctx, tx, seq, j.ID, job.StatusQueued, j.Create, ""); err != nil {
		return fmt.Errorf("record job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record job: commit: %w", err)
	}
	return nil
}

// RecordTransition appends a status change for an already recorded job.
//
// Note: The job must have been recorded with RecordJob (foreign key constraint).
// Note: A job enters each status at most once; a repeat is silently ignored.
func (s *Store) RecordTransition(ctx context.Context, seq int64, jobID string, status job.Status, at time.Time, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("record transition: job %s: unknown status %q", jobID, status)
	}
	if err := insertEvent(ctx, s.db, seq, jobID, status, at, errMsg); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, seq int64, jobID string, status job.Status, at time.Time, errMsg string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO job_events (job_id, seq, status, at, error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id, status) DO NOTHING
	`, jobID, seq, string(status), formatTime(at), errMsg)
	return err
}

// History returns recorded status changes in seq order. An empty jobID
// returns the history of every job.
func (s *Store) History(ctx context.Context, jobID string) ([]Event, error) {
	query := `
		SELECT id, job_id, seq, status, at, error
		FROM job_events
		ORDER BY seq ASC, id ASC`
	args := []any{}
	if jobID != "" {
		query = `
		SELECT id, job_id, seq, status, at, error
		FROM job_events
		WHERE job_id = ?
		ORDER BY seq ASC, id ASC`
		args = append(args, jobID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			status string
			at     string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Seq, &status, &at, &e.Error); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Status = job.Status(status)
		if e.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("scan history: event %d: %w", e.ID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return events, nil
}

// Jobs returns every recorded job in scheduling order.
func (s *Store) Jobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, recipe, rule_id, path, requirements, created_at, seq
		FROM jobs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var (
			r        JobRecord
			reqsJSON string
			created  string
		)
		if err := rows.Scan(&r.ID, &r.Pattern, &r.Recipe, &r.Rule, &r.Path, &reqsJSON, &created, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan jobs: %w", err)
		}
		if err := json.Unmarshal([]byte(reqsJSON), &r.Requirements); err != nil {
			return nil, fmt.Errorf("scan jobs: %s requirements: %w", r.ID, err)
		}
		if r.Created, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("scan jobs: %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return records, nil
}

// MaxSeq returns the highest seq recorded, or 0 for an empty ledger. The
// runner resumes its logical clock from here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM jobs
			UNION ALL
			SELECT seq FROM job_events
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
