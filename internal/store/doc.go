// Package store provides the SQLite-backed job ledger.
//
// The ledger is an append-only audit trail of every job the runner schedules
// and every status change it makes. Job directories remain the source of
// truth; nothing in the runner reads the ledger back. It exists so operators
// can answer "what ran, when, and why did it fail" after the job directories
// have been cleared.
//
// # Ordering
//
// Rows are ordered by seq, a logical clock value assigned by the runner,
// never by wall time. Queries use ORDER BY seq ASC, id ASC.
//
// # Idempotency
//
//   - jobs: ON CONFLICT(id) DO NOTHING
//   - job_events: UNIQUE(job_id, status), so a job enters each status at most once
//
// # Connections
//
// Pragmas travel in the connection string, so every pooled connection gets
// them. A read-write ledger runs in WAL mode with synchronous=NORMAL; both
// modes set busy_timeout (DefaultBusyTimeout) and foreign_keys.
//
// Open with ReadOnly for inspection tools: the file must already exist and
// be at the current schema version, and no migration runs.
package store
