package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/job"
	"github.com/roach88/meow/internal/model"
	"github.com/roach88/meow/internal/monitor"
	"github.com/roach88/meow/internal/testutil"
)

type adminFixture struct {
	ctx    context.Context
	admin  *Administrator
	queue  *JobQueue
	jobs   *job.Store
	clock  *testutil.ManualClock
	ledger *recordingLedger
	root   string
	state  string
	health []*liveness
}

func newAdminFixture(t *testing.T, retro bool, workers ...*Worker) *adminFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	base := t.TempDir()
	root := filepath.Join(base, "data")
	state := filepath.Join(base, "state")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, monitor.EnsureStateDirs(state))
	jobs, err := job.NewStore(filepath.Join(base, "jobs"))
	require.NoError(t, err)

	q := NewJobQueue(testLogger())
	go q.Run(ctx)

	clock := testutil.NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	l := &recordingLedger{}
	health := []*liveness{{name: "Job Queue"}, {name: "Workflow Monitor"}, {name: "State Monitor"}}
	for _, h := range health {
		h.alive.Store(true)
	}

	a := newAdministrator(adminParams{
		root:     root,
		stateDir: state,
		retro:    retro,
		debounce: time.Second,
		jobs:     jobs,
		queue:    q,
		pool:     newPool(workers),
		ids:      testutil.NewSequenceIDs("id"),
		now:      clock.Now,
		logger:   testLogger(),
		ledger:   newLedgerRecorder(l, testLogger()),
		health:   health,
	})

	t.Cleanup(func() {
		cancel()
		<-q.Done()
	})
	return &adminFixture{ctx: ctx, admin: a, queue: q, jobs: jobs, clock: clock, ledger: l, root: root, state: state, health: health}
}

func copyPattern(t *testing.T, name, trigger, output string) *model.Pattern {
	t.Helper()
	p, err := model.NewPattern(name)
	require.NoError(t, err)
	require.NoError(t, p.AddSingleInput("infile", trigger, ""))
	require.NoError(t, p.AddOutput("outfile", output))
	require.NoError(t, p.AddRecipe("identity"))
	return p
}

func identityRecipe(t *testing.T, requirements ...string) *model.Recipe {
	t.Helper()
	r, err := model.NewRecipe("identity", "identity.ipynb", map[string]any{"cells": []any{}}, requirements...)
	require.NoError(t, err)
	return r
}

func (f *adminFixture) addPattern(p *model.Pattern) {
	f.admin.handleState(f.ctx, monitor.StateEvent{Op: monitor.StateCreate, Kind: monitor.KindPattern, Name: p.Name, Pattern: p})
}

func (f *adminFixture) addRecipe(r *model.Recipe) {
	f.admin.handleState(f.ctx, monitor.StateEvent{Op: monitor.StateCreate, Kind: monitor.KindRecipe, Name: r.Name, Recipe: r})
}

func (f *adminFixture) touch(rel string) {
	f.admin.handleFile(f.ctx, monitor.FileEvent{
		Path: filepath.Join(f.root, filepath.FromSlash(rel)),
		Type: monitor.FileCreated,
		Time: f.clock.Now(),
	})
}

func (f *adminFixture) request(kind RequestKind, payload any) Response {
	resp, _ := f.admin.handleRequest(f.ctx, Request{Kind: kind, Payload: payload})
	return resp
}

func (f *adminFixture) queued(t *testing.T) []string {
	t.Helper()
	ids, err := f.queue.Snapshot(f.ctx)
	require.NoError(t, err)
	return ids
}

func TestAdmin_RulesNeedBothDefinitions(t *testing.T) {
	f := newAdminFixture(t, false)

	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))
	assert.Equal(t, 0, f.admin.rules.len(), "no rule before the recipe exists")

	f.addRecipe(identityRecipe(t))
	require.Equal(t, 1, f.admin.rules.len())
	rule := f.admin.rules.snapshot()[0]
	assert.Equal(t, "copy", rule.Pattern)
	assert.Equal(t, "identity", rule.Recipe)
	assert.Equal(t, "start/*.txt", rule.Path)

	f.admin.handleState(f.ctx, monitor.StateEvent{Op: monitor.StateDeleted, Kind: monitor.KindRecipe, Name: "identity"})
	assert.Equal(t, 0, f.admin.rules.len())
	assert.Contains(t, f.admin.patterns, "copy")
}

func TestAdmin_OneRulePerTriggerPath(t *testing.T) {
	f := newAdminFixture(t, false)
	p, err := model.NewPattern("gather")
	require.NoError(t, err)
	require.NoError(t, p.AddGatheringInput("infile", []string{"a/*.csv", "b/*.csv"}, ""))
	require.NoError(t, p.AddRecipe("identity"))

	f.addRecipe(identityRecipe(t))
	f.addPattern(p)
	assert.Equal(t, 2, f.admin.rules.len())

	f.admin.handleState(f.ctx, monitor.StateEvent{Op: monitor.StateDeleted, Kind: monitor.KindPattern, Name: "gather"})
	assert.Equal(t, 0, f.admin.rules.len())
	assert.Empty(t, f.admin.workflow)
}

func TestAdmin_InvalidPatternIgnored(t *testing.T) {
	f := newAdminFixture(t, false)
	p, err := model.NewPattern("broken")
	require.NoError(t, err)
	require.NoError(t, p.AddRecipe("identity"))

	f.addRecipe(identityRecipe(t))
	f.addPattern(p)
	assert.NotContains(t, f.admin.patterns, "broken")
	assert.Equal(t, 0, f.admin.rules.len())
}

func TestAdmin_MultipleRecipesUseFirst(t *testing.T) {
	f := newAdminFixture(t, false)
	p := copyPattern(t, "copy", "start/*.txt", "end/*.txt")
	require.NoError(t, p.AddRecipe("other"))

	f.addRecipe(identityRecipe(t))
	f.addPattern(p)
	require.Equal(t, 1, f.admin.rules.len())
	assert.Equal(t, "identity", f.admin.rules.snapshot()[0].Recipe)
}

func TestAdmin_FileEventSchedulesJob(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t, "GPU "))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))

	f.touch("start/data.txt")

	require.Len(t, f.admin.roster, 1)
	id := f.admin.roster[0]
	assert.Equal(t, []string{id}, f.queued(t))

	j, err := f.jobs.Load(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Equal(t, "copy", j.Pattern)
	assert.Equal(t, "identity", j.Recipe)
	assert.Equal(t, "start/data.txt", j.Path)
	assert.Equal(t, f.clock.Now(), j.Create)
	assert.Equal(t, []string{"GPU "}, j.Requirements)

	params, err := f.jobs.Params(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "start", "data.txt"), params["infile"])
	assert.Equal(t, "end/data.txt", params["outfile"])

	assert.Equal(t, []string{id}, f.ledger.jobs)
}

func TestAdmin_UnmatchedAndDeletedEventsIgnored(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))

	f.touch("start/data.csv")
	f.touch("elsewhere/data.txt")
	f.admin.handleFile(f.ctx, monitor.FileEvent{
		Path: filepath.Join(f.root, "start", "gone.txt"),
		Type: monitor.FileDeleted,
		Time: f.clock.Now(),
	})
	f.admin.handleFile(f.ctx, monitor.FileEvent{
		Path: filepath.Join(filepath.Dir(f.root), "outside.txt"),
		Type: monitor.FileCreated,
		Time: f.clock.Now(),
	})

	assert.Empty(t, f.admin.roster)
}

func TestAdmin_RecursiveMatchSchedules(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))

	f.touch("start/nested/deep.txt")
	assert.Len(t, f.admin.roster, 1)
}

func TestAdmin_Debounce(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))

	f.touch("start/data.txt")
	f.clock.Advance(500 * time.Millisecond)
	f.touch("start/data.txt")
	f.clock.Advance(time.Second)
	f.touch("start/data.txt")
	assert.Len(t, f.admin.roster, 1, "a burst inside the window yields one job")

	f.clock.Advance(1100 * time.Millisecond)
	f.touch("start/data.txt")
	assert.Len(t, f.admin.roster, 2)

	f.touch("start/other.txt")
	assert.Len(t, f.admin.roster, 3, "debounce is per path")
}

func TestAdmin_SweepFansOut(t *testing.T) {
	f := newAdminFixture(t, false)
	p := copyPattern(t, "sweep", "start/*.txt", "end/*.txt")
	require.NoError(t, p.AddSweep("n", model.Sweep{Start: 1, Stop: 3, Jump: 1}))
	f.addRecipe(identityRecipe(t))
	f.addPattern(p)

	f.touch("start/data.txt")
	require.Len(t, f.admin.roster, 3)

	var got []any
	for _, id := range f.admin.roster {
		params, err := f.jobs.Params(id)
		require.NoError(t, err)
		got = append(got, params["n"])
	}
	assert.Equal(t, []any{1, 2, 3}, got)
}

func TestAdmin_KeywordsReplacedInParams(t *testing.T) {
	f := newAdminFixture(t, false)
	p := copyPattern(t, "kw", "in/*.dat", "out/{FILENAME}.bak")
	require.NoError(t, p.AddVariable("note", "{REL_DIR}|{PREFIX}|{EXTENSION}|{VGRID}|{JOB}"))
	f.addRecipe(identityRecipe(t))
	f.addPattern(p)

	f.touch("in/sample.dat")
	require.Len(t, f.admin.roster, 1)
	id := f.admin.roster[0]

	params, err := f.jobs.Params(id)
	require.NoError(t, err)
	assert.Equal(t, "out/sample.dat.bak", params["outfile"])
	assert.Equal(t, "in|sample|.dat|data|"+id, params["note"])
}

func TestAdmin_RetroactiveScan(t *testing.T) {
	f := newAdminFixture(t, true)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "start"), 0o755))
	for _, name := range []string{"a.txt", "b.txt", "c.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.root, "start", name), []byte("x"), 0o644))
	}

	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))

	assert.Len(t, f.admin.roster, 2)
}

func TestAdmin_IdenticalDefinitionKeepsRules(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))
	before := f.admin.rules.snapshot()

	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))
	assert.Equal(t, before, f.admin.rules.snapshot())

	f.addPattern(copyPattern(t, "copy", "begin/*.txt", "end/*.txt"))
	after := f.admin.rules.snapshot()
	require.Len(t, after, 1)
	assert.NotEqual(t, before[0].ID, after[0].ID)
	assert.Equal(t, "begin/*.txt", after[0].Path)
}

func TestAdmin_DefinitionRequests(t *testing.T) {
	f := newAdminFixture(t, false)

	resp := f.request(ReqAddRecipe, identityRecipe(t))
	require.NoError(t, resp.Err)
	assert.FileExists(t, filepath.Join(f.state, "recipes", "identity.yml"))

	resp = f.request(ReqAddPattern, copyPattern(t, "copy", "start/*.txt", "end/*.txt"))
	require.NoError(t, resp.Err)
	assert.Equal(t, true, resp.Value)
	assert.FileExists(t, filepath.Join(f.state, "patterns", "copy.yml"))
	assert.Equal(t, 1, f.admin.rules.len())

	// Re-adding the same definition is accepted.
	resp = f.request(ReqAddPattern, copyPattern(t, "copy", "start/*.txt", "end/*.txt"))
	require.NoError(t, resp.Err)

	resp = f.request(ReqAddPattern, copyPattern(t, "copy", "other/*.txt", "end/*.txt"))
	assert.True(t, IsInvalidDefinitionError(resp.Err))

	resp = f.request(ReqModifyPattern, copyPattern(t, "copy", "other/*.txt", "end/*.txt"))
	require.NoError(t, resp.Err)
	assert.Equal(t, "other/*.txt", f.admin.rules.snapshot()[0].Path)

	resp = f.request(ReqModifyPattern, copyPattern(t, "missing", "x/*", "y/*"))
	assert.True(t, IsUnknownPatternError(resp.Err))

	resp = f.request(ReqModifyRecipe, &model.Recipe{Name: "nope", Source: "s", Recipe: map[string]any{}})
	assert.True(t, IsUnknownRecipeError(resp.Err))

	broken, err := model.NewPattern("broken")
	require.NoError(t, err)
	resp = f.request(ReqAddPattern, broken)
	assert.True(t, IsInvalidDefinitionError(resp.Err))

	resp = f.request(ReqAddPattern, "not a pattern")
	assert.True(t, IsInvalidDefinitionError(resp.Err))

	resp = f.request(ReqRemovePattern, "copy")
	require.NoError(t, resp.Err)
	assert.NoFileExists(t, filepath.Join(f.state, "patterns", "copy.yml"))
	assert.Equal(t, 0, f.admin.rules.len())

	resp = f.request(ReqRemovePattern, "copy")
	assert.True(t, IsUnknownPatternError(resp.Err))

	resp = f.request(ReqRemoveRecipe, "identity")
	require.NoError(t, resp.Err)
	resp = f.request(ReqRemoveRecipe, "identity")
	assert.True(t, IsUnknownRecipeError(resp.Err))
}

func TestAdmin_SnapshotsAreCopies(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))

	patterns := f.request(ReqCheckPatterns, nil).Value.(map[string]*model.Pattern)
	patterns["copy"].Variables["infile"] = "mutated"
	assert.Equal(t, "infile", f.admin.patterns["copy"].Variables["infile"])

	recipes := f.request(ReqCheckRecipes, nil).Value.(map[string]*model.Recipe)
	assert.Contains(t, recipes, "identity")

	rules := f.request(ReqCheckRules, nil).Value.([]Rule)
	assert.Len(t, rules, 1)
}

func TestAdmin_StatusRequests(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))

	assert.Equal(t, "[0/0] [start/*.txt]", f.request(ReqCheckStatus, nil).Value)
	assert.Equal(t, []string{"start/*.txt"}, f.request(ReqGetAllInputPaths, nil).Value)
	assert.Equal(t, RunningStatus{Running: 0, Total: 0}, f.request(ReqGetRunningStatus, nil).Value)

	f.touch("start/data.txt")
	jobs := f.request(ReqCheckJobs, nil).Value.([]*job.Job)
	require.Len(t, jobs, 1)
	assert.Equal(t, []string{jobs[0].ID}, f.request(ReqGetAllJobs, nil).Value)
	assert.Equal(t, []string{jobs[0].ID}, f.request(ReqGetQueuedJobs, nil).Value)

	resp := f.request(RequestKind("bogus"), nil)
	require.Error(t, resp.Err)
}

func TestAdmin_CheckRunningStatus(t *testing.T) {
	f := newAdminFixture(t, false)

	health := f.request(ReqCheckRunningStatus, nil).Value.(HealthStatus)
	assert.True(t, health.OK)
	assert.Equal(t, "All systems are running. ", health.Message)

	f.health[1].alive.Store(false)
	health = f.request(ReqCheckRunningStatus, nil).Value.(HealthStatus)
	assert.False(t, health.OK)
	assert.Equal(t, "The Workflow Monitor is not running. You should start another workflow runner. ", health.Message)
}

func TestAdmin_StopRunnerClearsJobs(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))
	f.touch("start/a.txt")
	f.touch("start/b.txt")
	require.Len(t, f.admin.roster, 2)
	ids := append([]string(nil), f.admin.roster...)

	resp, exit := f.admin.handleRequest(f.ctx, Request{Kind: ReqStopRunner, Payload: true})
	require.NoError(t, resp.Err)
	assert.True(t, exit)
	assert.Empty(t, f.admin.roster)
	assert.Empty(t, f.queued(t))
	for _, id := range ids {
		assert.NoDirExists(t, f.jobs.Dir(id))
	}
}

func TestAdmin_StopRunnerKeepsJobs(t *testing.T) {
	f := newAdminFixture(t, false)
	f.addRecipe(identityRecipe(t))
	f.addPattern(copyPattern(t, "copy", "start/*.txt", "end/*.txt"))
	f.touch("start/a.txt")

	resp, exit := f.admin.handleRequest(f.ctx, Request{Kind: ReqStopRunner, Payload: false})
	require.NoError(t, resp.Err)
	assert.True(t, exit)
	assert.DirExists(t, f.jobs.Dir(f.admin.roster[0]))
}

func TestAdmin_RunServesRequestsUntilKill(t *testing.T) {
	f := newAdminFixture(t, false)
	go f.admin.Run(f.ctx)

	f.admin.stateEvents.Enqueue(monitor.StateEvent{Op: monitor.StateCreate, Kind: monitor.KindRecipe, Name: "identity", Recipe: identityRecipe(t)})
	f.admin.stateEvents.Enqueue(monitor.StateEvent{Op: monitor.StateCreate, Kind: monitor.KindPattern, Name: "copy", Pattern: copyPattern(t, "copy", "start/*.txt", "end/*.txt")})

	ask := func(kind RequestKind) Response {
		reply := make(chan Response, 1)
		f.admin.requests <- Request{Kind: kind, Reply: reply}
		return <-reply
	}
	testutil.Eventually(t, func() bool { return len(ask(ReqCheckRules).Value.([]Rule)) == 1 })

	f.admin.fileEvents.Enqueue(monitor.FileEvent{Path: filepath.Join(f.root, "start", "x.txt"), Type: monitor.FileCreated, Time: f.clock.Now()})
	testutil.Eventually(t, func() bool { return len(ask(ReqGetAllJobs).Value.([]string)) == 1 })

	assert.Equal(t, true, ask(ReqKill).Value)
	select {
	case <-f.admin.Done():
	case <-time.After(testutil.WaitTimeout):
		t.Fatal("administrator did not exit after kill")
	}
}
