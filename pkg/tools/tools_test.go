package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewkit/crewkit/pkg/agents"
	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/monitor"
	"github.com/crewkit/crewkit/pkg/plan"
	"github.com/crewkit/crewkit/pkg/runner"
	"github.com/crewkit/crewkit/pkg/safety"
	"github.com/crewkit/crewkit/pkg/subtask"
)

type fixture struct {
	deps WorkerDeps
	reg  *Registry
	bus  *monitor.Monitor
}

func newFixture(t *testing.T, run runner.Runner) *fixture {
	t.Helper()
	limits := safety.NewLimits(config.DefaultSafetyConfig(), map[string]config.ModelPrice{
		"default": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	})
	bus := monitor.New(100)
	mgr := subtask.NewManager(limits, bus, run)

	wctx := identity.WorkerContext{
		WorkerID:     "worker-parent",
		WorktreePath: t.TempDir(),
		Depth:        0,
		SpawnContext: identity.SpawnContextOrchestrator,
		Owner:        &identity.Owner{OwnerID: "standalone-orch", OwnerType: identity.OwnerTypeOrchestrator},
	}
	deps := WorkerDeps{
		Worker:   wctx,
		Subtasks: mgr,
		Bus:      bus,
		Plans:    plan.NewManager(bus, t.TempDir(), "standalone-orch"),
		Agents:   agents.NewRegistry(""),
	}
	return &fixture{deps: deps, reg: NewWorkerToolSet(deps), bus: bus}
}

func decode(t *testing.T, res *ToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError, "unexpected error result: %s", res.ForLLM)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.ForLLM), &out))
	return out
}

func TestRegistry_NamesSortedAndUnknownTool(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())

	names := f.reg.Names()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
	assert.Contains(t, names, "spawn_subtask")
	assert.Contains(t, names, "plan_deploy")

	res := f.reg.Execute(context.Background(), "no_such_tool", nil)
	assert.True(t, res.IsError)
}

func TestListAgents(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())
	res := f.reg.Execute(context.Background(), "list_agents", map[string]any{"filter": "specialists"})
	require.False(t, res.IsError)

	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.ForLLM), &list))
	assert.NotEmpty(t, list)
}

func TestSpawnSubtask_Blocking(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner(&runner.Result{
		Status: runner.StatusCompleted, Output: "patch written",
	}))

	res := f.reg.Execute(context.Background(), "spawn_subtask", map[string]any{
		"agentType":      "@coder",
		"prompt":         "Fix the flaky test",
		"expectedOutput": "a green build",
		"blocking":       true,
	})
	out := decode(t, res)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "patch written", out["result"])
}

func TestSpawnSubtask_NonBlockingThenAwait(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner(&runner.Result{
		Status: runner.StatusCompleted, Output: "done",
	}))

	res := f.reg.Execute(context.Background(), "spawn_subtask", map[string]any{
		"agentType":      "@coder",
		"prompt":         "Do the thing",
		"expectedOutput": "the thing",
	})
	out := decode(t, res)
	assert.Equal(t, "spawned", out["status"])
	taskID := out["taskId"].(string)
	require.NotEmpty(t, taskID)

	awaited := decode(t, f.reg.Execute(context.Background(), "await_subtasks", map[string]any{
		"taskIds":        []any{taskID},
		"timeoutSeconds": 5,
	}))
	results := awaited["results"].(map[string]any)
	entry := results[taskID].(map[string]any)
	assert.Equal(t, "completed", entry["status"])
}

func TestSpawnSubtask_SafetyErrorIsStructured(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())
	f.deps.Worker.Depth = 5 // beyond any depth policy
	reg := NewWorkerToolSet(f.deps)

	res := reg.Execute(context.Background(), "spawn_subtask", map[string]any{
		"agentType":      "@coder",
		"prompt":         "too deep",
		"expectedOutput": "n/a",
	})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "Cannot spawn deeper")
}

func TestSpawnParallel_FanOutBlocking(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner(&runner.Result{
		Status: runner.StatusCompleted, Output: "ok",
	}))

	res := f.reg.Execute(context.Background(), "spawn_parallel_subtasks", map[string]any{
		"blocking": true,
		"subtasks": []any{
			map[string]any{"agentType": "@coder", "prompt": "part one", "expectedOutput": "x"},
			map[string]any{"agentType": "@tester", "prompt": "part two", "expectedOutput": "y"},
		},
	})
	out := decode(t, res)
	assert.Len(t, out["taskIds"], 2)
	assert.Empty(t, out["timedOut"])
}

func TestReportCompletion_RequiresCommitMessage(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())
	res := f.reg.Execute(context.Background(), "report_completion", map[string]any{
		"commitMessage": "   ",
		"output":        "did stuff",
	})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "commitMessage")
}

func TestReportCompletion_NotASubtaskWarning(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())
	res := f.reg.Execute(context.Background(), "report_completion", map[string]any{
		"commitMessage": "fix parser",
		"output":        "done",
	})
	require.False(t, res.IsError)
	assert.Contains(t, res.ForLLM, "not a subtask")
}

func TestReportCompletion_MarksOwnSubtask(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())

	st, err := f.deps.Subtasks.Create(subtask.CreateRequest{
		ParentWorkerID: "worker-grandparent",
		WorktreePath:   "/tmp/wt",
		AgentType:      "@coder",
		Prompt:         "child work",
		ParentDepth:    0,
		SpawnContext:   identity.SpawnContextOrchestrator,
	})
	require.NoError(t, err)

	f.deps.OwnSubTaskID = st.ID
	reg := NewWorkerToolSet(f.deps)

	res := reg.Execute(context.Background(), "report_completion", map[string]any{
		"commitMessage": "implement child work",
		"output":        "all green",
		"status":        "completed",
	})
	out := decode(t, res)
	assert.Equal(t, "completed", out["status"])

	got, _ := f.deps.Subtasks.Get(st.ID)
	assert.Equal(t, subtask.StatusCompleted, got.Status)
}

func TestNotifyParentThenPoll_OrderPreserved(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())

	// The child's tool set: its parent is this fixture's worker.
	childDeps := f.deps
	childDeps.Worker = identity.WorkerContext{
		WorkerID:     "worker-child",
		WorktreePath: "/tmp/wt",
		Depth:        1,
		SpawnContext: identity.SpawnContextOrchestrator,
		Owner:        &identity.Owner{OwnerID: "worker-parent", OwnerType: identity.OwnerTypeWorker},
	}
	childReg := NewWorkerToolSet(childDeps)

	res := childReg.Execute(context.Background(), "notify_parent", map[string]any{
		"type": "progress", "message": "50%", "progress": 50,
	})
	require.False(t, res.IsError)
	res = childReg.Execute(context.Background(), "notify_parent", map[string]any{
		"type": "idle", "message": "waiting",
	})
	require.False(t, res.IsError)

	polled := decode(t, f.reg.Execute(context.Background(), "poll_subtask_updates", nil))
	lines := polled["updates"].([]any)
	require.Len(t, lines, 2)
	assert.Equal(t, "[progress] 50%", lines[0])
	assert.Equal(t, "[idle] waiting", lines[1])

	// Second poll drains nothing.
	empty := f.reg.Execute(context.Background(), "poll_subtask_updates", nil)
	assert.Equal(t, "[]", empty.ForLLM)
}

func TestGetWorkerStatus(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())

	st, err := f.deps.Subtasks.Create(subtask.CreateRequest{
		ParentWorkerID: f.deps.Worker.WorkerID,
		WorktreePath:   "/tmp/wt",
		AgentType:      "@reviewer",
		Prompt:         "review it",
		ParentDepth:    0,
		SpawnContext:   identity.SpawnContextOrchestrator,
	})
	require.NoError(t, err)

	out := decode(t, f.reg.Execute(context.Background(), "get_worker_status", map[string]any{"workerId": st.ID}))
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, "@reviewer", out["agentType"])

	res := f.reg.Execute(context.Background(), "get_worker_status", map[string]any{"workerId": "nope"})
	assert.True(t, res.IsError)
}

func TestPlanTools_EndToEnd(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())
	ctx := context.Background()

	created := decode(t, f.reg.Execute(ctx, "plan_create", map[string]any{"name": "release"}))
	planID := created["planId"].(string)

	added := decode(t, f.reg.Execute(ctx, "plan_add_task", map[string]any{
		"planId": planID, "name": "build", "priority": "high",
	}))
	taskID := added["taskId"].(string)

	listed := f.reg.Execute(ctx, "plan_list", map[string]any{"planId": planID})
	require.False(t, listed.IsError)
	var tasks []map[string]any
	require.NoError(t, json.Unmarshal([]byte(listed.ForLLM), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, true, tasks[0]["ready"])

	deployed := decode(t, f.reg.Execute(ctx, "plan_deploy", map[string]any{"planId": planID, "taskId": taskID}))
	workerID := deployed["workerId"].(string)
	require.NotEmpty(t, workerID)

	msg := f.reg.Execute(ctx, "send_message_to_worker", map[string]any{
		"workerId": workerID, "message": "hello",
	})
	require.False(t, msg.IsError)

	completed := decode(t, f.reg.Execute(ctx, "plan_complete", map[string]any{
		"workerId": workerID, "success": true,
	}))
	assert.Equal(t, "completed", completed["status"])
}

func TestPlanComplete_UnauthorisedSurfacesAsError(t *testing.T) {
	f := newFixture(t, runner.NewMockRunner())
	ctx := context.Background()

	created := decode(t, f.reg.Execute(ctx, "plan_create", map[string]any{"name": "p"}))
	planID := created["planId"].(string)
	added := decode(t, f.reg.Execute(ctx, "plan_add_task", map[string]any{"planId": planID, "name": "t"}))

	deployed := decode(t, f.reg.Execute(ctx, "plan_deploy", map[string]any{
		"planId": planID, "taskId": added["taskId"].(string),
	}))

	// A stranger's tool set may not complete the worker.
	strangerDeps := f.deps
	strangerDeps.Worker.WorkerID = "worker-stranger"
	stranger := NewWorkerToolSet(strangerDeps)

	res := stranger.Execute(ctx, "plan_complete", map[string]any{
		"workerId": deployed["workerId"].(string), "success": true,
	})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "unauthorised")
}
