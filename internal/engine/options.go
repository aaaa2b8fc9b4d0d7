package engine

import (
	"log/slog"
	"time"
)

// Option configures a Runner.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	now      func() time.Time
	ids      IDGenerator
	executor Executor
	ledger   Ledger
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		now:    time.Now,
		ids:    UUIDv7Generator{},
	}
}

// WithLogger sets the logger every component derives its own from.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the wall clock used for job timestamps and file event
// times. Debounce is judged against event times, so a manual clock makes it
// deterministic.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets the source of job and rule ids.
//
// Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithExecutor replaces the CommandExecutor built from the configuration.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithLedger records job history to l. It takes precedence over the ledger
// path in the configuration; the caller keeps ownership of l.
func WithLedger(l Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}
