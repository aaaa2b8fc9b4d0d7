package job

import (
	"fmt"
	"slices"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
	StatusDone    Status = "done"
)

// validTransitions lists the only moves a job may make. Done and failed are
// terminal.
var validTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusDone:   true,
		StatusFailed: true,
	},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusFailed, StatusDone:
		return true
	}
	return false
}

// Job is the metadata persisted as job.yml.
type Job struct {
	ID      string `yaml:"id" json:"id"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Recipe  string `yaml:"recipe" json:"recipe"`
	Rule    string `yaml:"rule" json:"rule"`

	// Path is the triggering file relative to the managed root.
	Path string `yaml:"path" json:"path"`

	// Requirements are copied from the recipe at scheduling time so the
	// queue can admit the job without consulting the recipe table.
	Requirements []string `yaml:"requirements,omitempty" json:"requirements,omitempty"`

	Status Status     `yaml:"status" json:"status"`
	Create time.Time  `yaml:"create" json:"create"`
	Start  *time.Time `yaml:"start,omitempty" json:"start,omitempty"`
	End    *time.Time `yaml:"end,omitempty" json:"end,omitempty"`
	Error  string     `yaml:"error,omitempty" json:"error,omitempty"`
}

// New returns a queued job.
func New(id, pattern, recipe, rule, path string, requirements []string, created time.Time) *Job {
	return &Job{
		ID:           id,
		Pattern:      pattern,
		Recipe:       recipe,
		Rule:         rule,
		Path:         path,
		Requirements: slices.Clone(requirements),
		Status:       StatusQueued,
		Create:       created.UTC(),
	}
}

// TransitionError reports an attempt to move a job along an edge that
// validTransitions does not allow.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// Transition moves the job to status to at the given time. Entering running
// stamps Start; entering a terminal status stamps End. errMsg is recorded
// only for StatusFailed.
func (j *Job) Transition(to Status, at time.Time, errMsg string) error {
	if !CanTransition(j.Status, to) {
		return &TransitionError{ID: j.ID, From: j.Status, To: to}
	}
	at = at.UTC()
	switch to {
	case StatusRunning:
		j.Start = &at
	case StatusDone, StatusFailed:
		j.End = &at
	}
	if to == StatusFailed {
		j.Error = errMsg
	}
	j.Status = to
	return nil
}
