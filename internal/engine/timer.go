package engine

import (
	"context"
	"log/slog"
	"time"
)

// TimerReply is the Timer's answer to a request.
type TimerReply string

const (
	TimerDone TimerReply = "done"
	TimerDead TimerReply = "dead"
)

// Timer sleeps on behalf of a worker so the worker's own loop can keep
// receiving control messages while it idles.
//
// A new Sleep supersedes one still in progress; the superseded request is
// answered TimerDone straight away. Kill answers TimerDead to the pending
// sleep, if any, and to the kill itself, then exits.
type Timer struct {
	inbox  chan timerMsg
	done   chan struct{}
	logger *slog.Logger
}

type timerMsg struct {
	kill  bool
	d     time.Duration
	reply chan TimerReply
}

// NewTimer creates a timer. Run must be started before Sleep or Kill.
func NewTimer(logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		inbox:  make(chan timerMsg),
		done:   make(chan struct{}),
		logger: logger.With("component", "timer"),
	}
}

// Run serves sleep requests until killed or ctx is cancelled.
func (t *Timer) Run(ctx context.Context) error {
	defer close(t.done)

	var (
		pending chan TimerReply
		timer   *time.Timer
		fire    <-chan time.Time
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, fire = nil, nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending <- TimerDead
			}
			return ctx.Err()

		case msg := <-t.inbox:
			if msg.kill {
				if pending != nil {
					pending <- TimerDead
				}
				msg.reply <- TimerDead
				t.logger.Debug("timer killed")
				return nil
			}
			stop()
			if pending != nil {
				pending <- TimerDone
			}
			pending = msg.reply
			timer = time.NewTimer(msg.d)
			fire = timer.C

		case <-fire:
			pending <- TimerDone
			pending = nil
			timer, fire = nil, nil
		}
	}
}

// Sleep asks the timer to wait d. The returned channel receives exactly one
// reply. If the timer has already exited the reply is TimerDead.
func (t *Timer) Sleep(d time.Duration) <-chan TimerReply {
	reply := make(chan TimerReply, 1)
	select {
	case t.inbox <- timerMsg{d: d, reply: reply}:
	case <-t.done:
		reply <- TimerDead
	}
	return reply
}

// Kill stops the timer and waits for its acknowledgement.
func (t *Timer) Kill() TimerReply {
	reply := make(chan TimerReply, 1)
	select {
	case t.inbox <- timerMsg{kill: true, reply: reply}:
		return <-reply
	case <-t.done:
		return TimerDead
	}
}

// Done is closed when Run has returned.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}
