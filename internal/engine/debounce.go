package engine

import "time"

// debouncer collapses repeated hits of the same (path, rule) pair.
//
// A hit no later than window after the last recorded hit for the pair is
// suppressed and only advances the recorded time, so a burst of writes
// yields one job. Owned by the administrator goroutine; not safe for
// concurrent use.
type debouncer struct {
	window time.Duration
	last   map[debounceKey]time.Time
}

type debounceKey struct {
	path string
	rule string
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		last:   make(map[debounceKey]time.Time),
	}
}

// Hit records an event on path for ruleID at time at and reports whether it
// should fire.
func (d *debouncer) Hit(path, ruleID string, at time.Time) bool {
	key := debounceKey{path: path, rule: ruleID}
	prev, seen := d.last[key]
	if seen && at.Sub(prev) <= d.window {
		if at.After(prev) {
			d.last[key] = at
		}
		return false
	}
	d.last[key] = at
	return true
}

// ForgetRule drops every record for ruleID. Called when the rule is removed
// so a re-created rule with a recycled id starts clean.
func (d *debouncer) ForgetRule(ruleID string) {
	for key := range d.last {
		if key.rule == ruleID {
			delete(d.last, key)
		}
	}
}

// Len returns the number of tracked pairs.
func (d *debouncer) Len() int {
	return len(d.last)
}
