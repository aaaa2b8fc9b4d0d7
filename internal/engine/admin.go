package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/meow/internal/job"
	"github.com/roach88/meow/internal/model"
	"github.com/roach88/meow/internal/monitor"
)

// Administrator is the single owner of the runner's shared state: the
// pattern and recipe tables, the derived rules, the debounce record, the job
// roster and the workflow graph.
//
// CRITICAL: All of that state is read and written only by the Run
// goroutine. Monitors deliver events through mailboxes and callers send
// Requests; nothing else touches it.
//
// Thread-safety model:
//   - fileEvents/stateEvents mailboxes: safe from any goroutine
//   - requests channel: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// ERROR HANDLING: a failure while handling an event is logged and the loop
// continues. Request failures become the Response's error.
type Administrator struct {
	root     string
	stateDir string
	retro    bool
	jobs     *job.Store
	queue    *JobQueue
	pool     *Pool
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
	ledger   *ledgerRecorder
	health   []*liveness

	// Owned by Run.
	patterns map[string]*model.Pattern
	recipes  map[string]*model.Recipe
	rules    ruleSet
	debounce *debouncer
	roster   []string
	workflow model.Workflow

	fileEvents  *mailbox[monitor.FileEvent]
	stateEvents *mailbox[monitor.StateEvent]
	requests    chan Request
	done        chan struct{}
}

type adminParams struct {
	root     string
	stateDir string
	retro    bool
	debounce time.Duration
	jobs     *job.Store
	queue    *JobQueue
	pool     *Pool
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
	ledger   *ledgerRecorder
	health   []*liveness
}

func newAdministrator(p adminParams) *Administrator {
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.now
	if now == nil {
		now = time.Now
	}
	ids := p.ids
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Administrator{
		root:        p.root,
		stateDir:    p.stateDir,
		retro:       p.retro,
		jobs:        p.jobs,
		queue:       p.queue,
		pool:        p.pool,
		ids:         ids,
		now:         now,
		logger:      logger.With("component", "admin"),
		ledger:      p.ledger,
		health:      p.health,
		patterns:    make(map[string]*model.Pattern),
		recipes:     make(map[string]*model.Recipe),
		debounce:    newDebouncer(p.debounce),
		workflow:    model.Workflow{},
		fileEvents:  newMailbox[monitor.FileEvent](),
		stateEvents: newMailbox[monitor.StateEvent](),
		requests:    make(chan Request),
		done:        make(chan struct{}),
	}
}

// Done is closed when Run has returned.
func (a *Administrator) Done() <-chan struct{} { return a.done }

// Run is the administrator's loop. It returns nil after a stop_runner or
// kill request, or the context's error when cancelled.
//
// Each pass takes at most one message from each source, in the fixed order
// state events, file events, requests, so no source can starve another.
// Only when all three are empty does the loop block.
func (a *Administrator) Run(ctx context.Context) error {
	defer close(a.done)
	a.logger.Info("administrator starting", "root", a.root)

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Info("administrator stopping: context cancelled")
			return err
		}

		progressed := false
		if ev, ok := a.stateEvents.TryDequeue(); ok {
			a.handleState(ctx, ev)
			progressed = true
		}
		if ev, ok := a.fileEvents.TryDequeue(); ok {
			a.handleFile(ctx, ev)
			progressed = true
		}
		select {
		case req := <-a.requests:
			if a.serve(ctx, req) {
				return nil
			}
			progressed = true
		default:
		}
		if progressed {
			continue
		}

		select {
		case <-ctx.Done():
		case <-a.stateEvents.Wait():
		case <-a.fileEvents.Wait():
		case req := <-a.requests:
			if a.serve(ctx, req) {
				return nil
			}
		}
	}
}

// serve answers one request and reports whether the loop must exit.
func (a *Administrator) serve(ctx context.Context, req Request) bool {
	resp, exit := a.handleRequest(ctx, req)
	if req.Reply != nil {
		req.Reply <- resp
	}
	if exit {
		a.logger.Info("administrator stopping", "request", req.Kind)
	}
	return exit
}

func (a *Administrator) handleState(ctx context.Context, ev monitor.StateEvent) {
	switch {
	case ev.Op == monitor.StateCreate && ev.Kind == monitor.KindPattern && ev.Pattern != nil:
		if ok, msg := ev.Pattern.IntegrityCheck(); !ok {
			a.logger.Warn("pattern rejected", "pattern", ev.Pattern.Name, "reason", msg)
			return
		}
		a.upsertPattern(ctx, ev.Pattern)
	case ev.Op == monitor.StateCreate && ev.Kind == monitor.KindRecipe && ev.Recipe != nil:
		a.upsertRecipe(ctx, ev.Recipe)
	case ev.Op == monitor.StateDeleted && ev.Kind == monitor.KindPattern:
		if _, ok := a.patterns[ev.Name]; ok {
			a.dropPattern(ev.Name)
		}
	case ev.Op == monitor.StateDeleted && ev.Kind == monitor.KindRecipe:
		if _, ok := a.recipes[ev.Name]; ok {
			a.dropRecipe(ev.Name)
		}
	default:
		a.logger.Warn("malformed state event dropped", "op", ev.Op, "kind", ev.Kind, "name", ev.Name)
	}
}

// upsertPattern installs p. An identical definition is left alone so its
// rules and debounce history survive; a different one replaces the old.
func (a *Administrator) upsertPattern(ctx context.Context, p *model.Pattern) {
	if old, ok := a.patterns[p.Name]; ok {
		if model.SameDefinition(old, p) {
			a.logger.Debug("pattern unchanged", "pattern", p.Name)
			return
		}
		a.dropPattern(p.Name)
		a.logger.Info("pattern modified", "pattern", p.Name)
	} else {
		a.logger.Info("pattern added", "pattern", p.Name)
	}
	a.patterns[p.Name] = p
	a.rebuildWorkflow()
	a.deriveRules(ctx, p)
}

func (a *Administrator) upsertRecipe(ctx context.Context, r *model.Recipe) {
	if old, ok := a.recipes[r.Name]; ok {
		if model.SameRecipe(old, r) {
			a.logger.Debug("recipe unchanged", "recipe", r.Name)
			return
		}
		a.dropRecipe(r.Name)
		a.logger.Info("recipe modified", "recipe", r.Name)
	} else {
		a.logger.Info("recipe added", "recipe", r.Name)
	}
	a.recipes[r.Name] = r
	for _, name := range sortedNames(a.patterns) {
		p := a.patterns[name]
		if recipe, _, ok := p.Recipe(); ok && recipe == r.Name {
			a.deriveRules(ctx, p)
		}
	}
}

func (a *Administrator) dropPattern(name string) {
	delete(a.patterns, name)
	removed := a.rules.removePattern(name)
	a.forgetRules(removed)
	a.rebuildWorkflow()
	a.logger.Info("pattern removed", "pattern", name, "rules_removed", len(removed))
}

func (a *Administrator) dropRecipe(name string) {
	delete(a.recipes, name)
	removed := a.rules.removeRecipe(name)
	a.forgetRules(removed)
	a.logger.Info("recipe removed", "recipe", name, "rules_removed", len(removed))
}

func (a *Administrator) forgetRules(rules []*Rule) {
	for _, r := range rules {
		a.debounce.ForgetRule(r.ID)
	}
}

// deriveRules creates one rule per trigger path of p once its recipe is
// known. Only the first recipe of a pattern is used.
func (a *Administrator) deriveRules(ctx context.Context, p *model.Pattern) {
	recipe, multi, ok := p.Recipe()
	if !ok {
		return
	}
	if multi {
		a.logger.Warn("pattern names more than one recipe; only the first is used",
			"pattern", p.Name, "recipes", strings.Join(p.Recipes, ","))
	}
	if _, known := a.recipes[recipe]; !known {
		a.logger.Debug("pattern waiting for recipe", "pattern", p.Name, "recipe", recipe)
		return
	}
	if len(a.rules.forPattern(p.Name)) > 0 {
		return
	}
	for _, path := range p.TriggerPaths {
		rule, err := newRule(a.ids.Generate(), p.Name, recipe, path)
		if err != nil {
			a.logger.Warn("rule not created", "pattern", p.Name, "path", path, "error", err)
			continue
		}
		a.rules.add(rule)
		a.logger.Info("rule created", "rule_id", rule.ID, "pattern", p.Name, "recipe", recipe, "path", path)
		if a.retro {
			a.retroScan(ctx, rule)
		}
	}
}

// retroScan schedules a job for every existing file the new rule's glob
// matches, as if each had just been created.
func (a *Administrator) retroScan(ctx context.Context, rule *Rule) {
	matches, err := filepath.Glob(filepath.Join(a.root, filepath.FromSlash(rule.Path)))
	if err != nil {
		a.logger.Warn("retroactive scan failed", "rule_id", rule.ID, "path", rule.Path, "error", err)
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		rel, ok := a.relative(path)
		if !ok {
			continue
		}
		a.logger.Debug("retroactive match", "rule_id", rule.ID, "path", rel)
		a.schedule(ctx, rule, path, rel)
	}
}

func (a *Administrator) rebuildWorkflow() {
	wf, err := model.BuildWorkflow(a.patterns, a.logger)
	if err != nil {
		a.logger.Error("build workflow", "error", err)
		return
	}
	a.workflow = wf
}

func (a *Administrator) handleFile(ctx context.Context, ev monitor.FileEvent) {
	if ev.Type != monitor.FileCreated && ev.Type != monitor.FileModified {
		return
	}
	rel, ok := a.relative(ev.Path)
	if !ok {
		a.logger.Debug("event outside managed root ignored", "path", ev.Path)
		return
	}
	for _, rule := range a.rules.rules {
		kind := rule.Match(rel)
		if !kind.Matched() {
			continue
		}
		if !a.debounce.Hit(rel, rule.ID, ev.Time) {
			a.logger.Debug("event debounced", "rule_id", rule.ID, "path", rel)
			continue
		}
		a.logger.Debug("rule matched", "rule_id", rule.ID, "path", rel, "match", kind)
		a.schedule(ctx, rule, ev.Path, rel)
	}
}

// relative returns path relative to the managed root with forward slashes.
func (a *Administrator) relative(path string) (string, bool) {
	rel, err := filepath.Rel(a.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// schedule creates and queues the jobs for one rule hit: one job, or one
// per sweep combination.
func (a *Administrator) schedule(ctx context.Context, rule *Rule, path, rel string) {
	p, r := a.patterns[rule.Pattern], a.recipes[rule.Recipe]
	if p == nil || r == nil {
		a.logger.Warn("rule refers to a missing definition", "rule_id", rule.ID)
		return
	}
	combos, err := model.SweepCombinations(p.Sweep)
	if err != nil {
		a.logger.Error("expand sweep", "pattern", p.Name, "error", err)
		return
	}

	vars := make(map[string]any, len(p.Variables)+len(p.Outputs)+1)
	for k, v := range p.Variables {
		vars[k] = v
	}
	for k, v := range p.Outputs {
		vars[k] = outputTemplate(v)
	}
	vars[p.TriggerFile] = path

	for _, combo := range combos {
		params := make(map[string]any, len(vars)+len(combo))
		for k, v := range vars {
			params[k] = v
		}
		for k, v := range combo {
			params[k] = v
		}
		a.createJob(ctx, rule, r, path, rel, params)
	}
}

func (a *Administrator) createJob(ctx context.Context, rule *Rule, r *model.Recipe, path, rel string, params map[string]any) {
	id := a.ids.Generate()
	resolved, _ := replaceKeywords(params, keywordReplacer(a.root, path, rel, id)).(map[string]any)

	j := job.New(id, rule.Pattern, r.Name, rule.ID, rel, r.Requirements, a.now())
	if err := a.jobs.Create(j, r.Recipe, resolved); err != nil {
		a.logger.Error("create job", "job_id", id, "rule_id", rule.ID, "error", err)
		return
	}
	a.roster = append(a.roster, id)
	a.ledger.scheduled(ctx, j)

	if err := a.queue.Enqueue(ctx, id, j.Requirements); err != nil {
		a.logger.Error("queue job", "job_id", id, "error", err)
		return
	}
	a.logger.Info("job scheduled", "job_id", id, "rule_id", rule.ID, "pattern", rule.Pattern, "path", rel)
}

// handleRequest answers req and reports whether the loop must exit
// afterwards.
func (a *Administrator) handleRequest(ctx context.Context, req Request) (Response, bool) {
	switch req.Kind {
	case ReqStartWorkers:
		a.pool.StartAll()
		return Response{Value: true}, false

	case ReqStopWorkers:
		a.pool.StopAll()
		return Response{Value: true}, false

	case ReqGetRunningStatus:
		running, total := a.pool.Status()
		return Response{Value: RunningStatus{Running: running, Total: total}}, false

	case ReqCheckRunningStatus:
		return Response{Value: a.checkRunningStatus()}, false

	case ReqStopRunner:
		clearJobs, _ := req.Payload.(bool)
		err := a.stopRunner(ctx, clearJobs)
		return Response{Value: err == nil, Err: err}, true

	case ReqGetAllJobs:
		return Response{Value: slices.Clone(a.roster)}, false

	case ReqGetQueuedJobs, ReqCheckQueue:
		ids, err := a.queue.Snapshot(ctx)
		return Response{Value: ids, Err: err}, false

	case ReqGetAllInputPaths:
		return Response{Value: a.workflow.InputPaths()}, false

	case ReqCheckStatus:
		running, total := a.pool.Status()
		return Response{Value: fmt.Sprintf("[%d/%d] [%s]", running, total, strings.Join(a.workflow.InputPaths(), ", "))}, false

	case ReqAddPattern, ReqModifyPattern:
		p, ok := req.Payload.(*model.Pattern)
		if !ok || p == nil {
			return Response{Value: false, Err: newInvalidDefinitionError("", "request carries no pattern")}, false
		}
		err := a.putPattern(ctx, p, req.Kind == ReqModifyPattern)
		return Response{Value: err == nil, Err: err}, false

	case ReqAddRecipe, ReqModifyRecipe:
		r, ok := req.Payload.(*model.Recipe)
		if !ok || r == nil {
			return Response{Value: false, Err: newInvalidDefinitionError("", "request carries no recipe")}, false
		}
		err := a.putRecipe(ctx, r, req.Kind == ReqModifyRecipe)
		return Response{Value: err == nil, Err: err}, false

	case ReqRemovePattern:
		name, _ := req.Payload.(string)
		if _, ok := a.patterns[name]; !ok {
			return Response{Value: false, Err: newUnknownPatternError(name)}, false
		}
		if err := monitor.RemoveDefinition(a.stateDir, monitor.KindPattern, name); err != nil {
			return Response{Value: false, Err: err}, false
		}
		a.dropPattern(name)
		return Response{Value: true}, false

	case ReqRemoveRecipe:
		name, _ := req.Payload.(string)
		if _, ok := a.recipes[name]; !ok {
			return Response{Value: false, Err: newUnknownRecipeError(name)}, false
		}
		if err := monitor.RemoveDefinition(a.stateDir, monitor.KindRecipe, name); err != nil {
			return Response{Value: false, Err: err}, false
		}
		a.dropRecipe(name)
		return Response{Value: true}, false

	case ReqCheckPatterns:
		out := make(map[string]*model.Pattern, len(a.patterns))
		for name, p := range a.patterns {
			out[name] = p.Clone()
		}
		return Response{Value: out}, false

	case ReqCheckRecipes:
		out := make(map[string]*model.Recipe, len(a.recipes))
		for name, r := range a.recipes {
			out[name] = r.Clone()
		}
		return Response{Value: out}, false

	case ReqCheckRules:
		return Response{Value: a.rules.snapshot()}, false

	case ReqCheckJobs:
		return Response{Value: a.loadRoster()}, false

	case ReqKill:
		return Response{Value: true}, true
	}
	return Response{Value: nil, Err: newUnknownRequestError(req.Kind)}, false
}

// putPattern validates p, persists it to the state directory and installs
// it. Adding a name that exists with a different definition is refused;
// modifying one that does not exist is refused.
func (a *Administrator) putPattern(ctx context.Context, p *model.Pattern, modify bool) error {
	if ok, msg := p.IntegrityCheck(); !ok {
		return newInvalidDefinitionError(p.Name, msg)
	}
	old, exists := a.patterns[p.Name]
	switch {
	case modify && !exists:
		return newUnknownPatternError(p.Name)
	case !modify && exists && model.SameDefinition(old, p):
		return nil
	case !modify && exists:
		return newInvalidDefinitionError(p.Name, "a different pattern with this name already exists")
	}
	p = p.Clone()
	if err := monitor.WritePattern(a.stateDir, p); err != nil {
		return fmt.Errorf("persist pattern %s: %w", p.Name, err)
	}
	a.upsertPattern(ctx, p)
	return nil
}

func (a *Administrator) putRecipe(ctx context.Context, r *model.Recipe, modify bool) error {
	if err := model.ValidName(r.Name); err != nil {
		return newInvalidDefinitionError(r.Name, err.Error())
	}
	if ok, msg := model.ValidateRecipePayload(r.ToPayload()); !ok {
		return newInvalidDefinitionError(r.Name, msg)
	}
	old, exists := a.recipes[r.Name]
	switch {
	case modify && !exists:
		return newUnknownRecipeError(r.Name)
	case !modify && exists && model.SameRecipe(old, r):
		return nil
	case !modify && exists:
		return newInvalidDefinitionError(r.Name, "a different recipe with this name already exists")
	}
	r = r.Clone()
	if err := monitor.WriteRecipe(a.stateDir, r); err != nil {
		return fmt.Errorf("persist recipe %s: %w", r.Name, err)
	}
	a.upsertRecipe(ctx, r)
	return nil
}

func (a *Administrator) checkRunningStatus() HealthStatus {
	for _, c := range a.health {
		if !c.Alive() {
			return HealthStatus{
				OK:      false,
				Message: fmt.Sprintf("The %s is not running. You should start another workflow runner. ", c.name),
			}
		}
	}
	if ok, msg := a.pool.Check(); !ok {
		return HealthStatus{OK: false, Message: msg}
	}
	return HealthStatus{OK: true, Message: "All systems are running. "}
}

// stopRunner kills the workers, waits for their current jobs, and
// optionally removes every job directory this runner created.
func (a *Administrator) stopRunner(ctx context.Context, clearJobs bool) error {
	a.pool.KillAll()
	if err := a.pool.Wait(ctx); err != nil {
		return fmt.Errorf("stop runner: %w", err)
	}
	if !clearJobs {
		return nil
	}
	if _, err := a.queue.Clear(ctx); err != nil {
		a.logger.Warn("clear queue", "error", err)
	}
	var failed []string
	for _, id := range a.roster {
		if err := a.jobs.Remove(id); err != nil {
			a.logger.Error("remove job", "job_id", id, "error", err)
			failed = append(failed, id)
		}
	}
	a.roster = nil
	if len(failed) > 0 {
		return fmt.Errorf("stop runner: could not remove jobs %s", strings.Join(failed, ", "))
	}
	return nil
}

func (a *Administrator) loadRoster() []*job.Job {
	out := make([]*job.Job, 0, len(a.roster))
	for _, id := range a.roster {
		j, err := a.jobs.Load(id)
		if err != nil {
			a.logger.Warn("load job", "job_id", id, "error", err)
			continue
		}
		out = append(out, j)
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
