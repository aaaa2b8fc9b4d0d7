package harness

// Result is the outcome of running one scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every job the runner scheduled, sorted by pattern then
	// path so it is stable across runs.
	Trace []TraceJob `json:"trace"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`
}

// TraceJob is the id-free view of one job.
type TraceJob struct {
	Pattern string `json:"pattern"`
	Recipe  string `json:"recipe"`

	// Path is the triggering file relative to the managed directory.
	Path string `json:"path"`

	Status string `json:"status"`

	// Error is the failure message with the jobs directory replaced by
	// "<jobs>".
	Error string `json:"error,omitempty"`
}
