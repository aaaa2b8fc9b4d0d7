// Package engine implements the MEOW runner: the administrator, the job
// queue, the worker pool and the glue that feeds them from the monitors.
//
// ARCHITECTURE:
//
// Single-Owner Goroutines:
// Each component runs on its own goroutine and owns its state outright.
// Components talk only through channels, so no table is ever guarded by a
// lock.
//
//	state monitor ──► mailbox ──┐
//	                            ├──► Administrator ──► JobQueue ◄── Worker ◄─► Timer
//	file monitor ───► mailbox ──┘          ▲
//	                                       └── Request/Response ◄── Runner methods
//
// Event Processing Flow:
// 1. Monitors enqueue definition and data-file events into mailboxes
// 2. Administrator.Run takes one message per source per pass
// 3. Definition events update the tables and derive rules (pattern, recipe, trigger glob)
// 4. File events are matched against every rule, debounced per (path, rule)
// 5. A hit writes a job directory and enqueues the job id
// 6. Workers pull ids, run the executor, and move the job to done or failed
//
// Job Ownership:
// The administrator creates a job; the queue hands its id to exactly one
// worker, which then owns the job directory until the job is terminal.
//
// CRITICAL PATTERNS:
//
// Log and Continue:
// A bad definition, a failed job or an unwritable ledger is logged and
// recorded as data. Nothing inside the engine returns such a failure across
// a goroutine boundary.
//
// Ledger Sequence:
// Ledger entries are ordered by a per-runner sequence number that resumes
// after the highest one already recorded, never by wall time.
package engine
