package engine

// RequestKind names an administrator request.
type RequestKind string

const (
	ReqStartWorkers       RequestKind = "start_workers"
	ReqStopWorkers        RequestKind = "stop_workers"
	ReqGetRunningStatus   RequestKind = "get_running_status"
	ReqCheckRunningStatus RequestKind = "check_running_status"
	ReqStopRunner         RequestKind = "stop_runner"
	ReqGetAllJobs         RequestKind = "get_all_jobs"
	ReqGetQueuedJobs      RequestKind = "get_queued_jobs"
	ReqGetAllInputPaths   RequestKind = "get_all_input_paths"
	ReqCheckStatus        RequestKind = "check_status"
	ReqAddPattern         RequestKind = "add_pattern"
	ReqModifyPattern      RequestKind = "modify_pattern"
	ReqRemovePattern      RequestKind = "remove_pattern"
	ReqAddRecipe          RequestKind = "add_recipe"
	ReqModifyRecipe       RequestKind = "modify_recipe"
	ReqRemoveRecipe       RequestKind = "remove_recipe"
	ReqCheckPatterns      RequestKind = "check_patterns"
	ReqCheckRecipes       RequestKind = "check_recipes"
	ReqCheckRules         RequestKind = "check_rules"
	ReqCheckJobs          RequestKind = "check_jobs"
	ReqCheckQueue         RequestKind = "check_queue"
	ReqKill               RequestKind = "kill"
)

// Request is one message to the administrator. Reply must be buffered so
// the administrator never blocks on a caller that has gone away.
//
// Payloads by kind:
//   - add_pattern, modify_pattern: *model.Pattern
//   - add_recipe, modify_recipe: *model.Recipe
//   - remove_pattern, remove_recipe: string name
//   - stop_runner: bool, whether to clear job directories
type Request struct {
	Kind    RequestKind
	Payload any
	Reply   chan Response
}

// Response carries the administrator's answer. Value's type depends on the
// request kind; see the typed Runner methods.
type Response struct {
	Value any
	Err   error
}

// RunningStatus answers get_running_status.
type RunningStatus struct {
	Running int `json:"running"`
	Total   int `json:"total"`
}

// HealthStatus answers check_running_status.
type HealthStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
