package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/permission"
	"github.com/crewkit/crewkit/pkg/plan"
	"github.com/crewkit/crewkit/pkg/runner"
	"github.com/crewkit/crewkit/pkg/safety"
	"github.com/crewkit/crewkit/pkg/subtask"
)

func newTestService(t *testing.T, run runner.Runner) *Service {
	t.Helper()
	s, err := New(config.DefaultConfig(), t.TempDir(), run)
	require.NoError(t, err)
	return s
}

func TestNew_NoWorkspaceFails(t *testing.T) {
	_, err := New(config.DefaultConfig(), "", runner.NewMockRunner())
	require.ErrorIs(t, err, identity.ErrNoWorkspace)
	// The diagnostic lists the candidates it considered.
	assert.Contains(t, err.Error(), "candidates considered")
}

func TestNew_CapturesIdentityOnce(t *testing.T) {
	s := newTestService(t, runner.NewMockRunner())
	first := s.Context()
	second := s.Context()
	assert.Equal(t, first.WorkerID, second.WorkerID)
	assert.True(t, first.IsOrchestrator())
}

func TestDeployAndComplete_NotifiesWatchers(t *testing.T) {
	s := newTestService(t, runner.NewMockRunner())

	var snapshots [][]string
	s.OnWorkersChanged(func(ids []string) {
		cp := append([]string(nil), ids...)
		snapshots = append(snapshots, cp)
	})

	p := s.Plans.CreatePlan("release", "", "")
	task, err := s.Plans.AddTask(p.ID, plan.TaskSpec{Name: "build"})
	require.NoError(t, err)

	dep, err := s.DeployTask(p.ID, task.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, []string{dep.Worker.WorkerID}, snapshots[0])

	_, err = s.CompleteTask(dep.Worker.WorkerID, true, "")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Empty(t, snapshots[1])
}

func TestDeployTask_RoutesToSession(t *testing.T) {
	s := newTestService(t, runner.NewMockRunner())
	p := s.Plans.CreatePlan("p", "", "")
	task, _ := s.Plans.AddTask(p.ID, plan.TaskSpec{Name: "t"})

	dep, err := s.DeployTask(p.ID, task.ID)
	require.NoError(t, err)

	_, parent, ok := s.Plans.Worker(dep.Worker.WorkerID)
	require.True(t, ok)
	assert.Equal(t, s.Context().WorkerID, parent)
	require.NotNil(t, dep.Worker.Owner)
	assert.Equal(t, identity.OwnerTypeOrchestrator, dep.Worker.Owner.OwnerType)
}

func TestWorkerToolSet_SpawnsThroughService(t *testing.T) {
	s := newTestService(t, runner.NewMockRunner(&runner.Result{
		Status: runner.StatusCompleted,
		Output: "done",
		Usage:  runner.Usage{InputTokens: 1_000_000, OutputTokens: 0, TotalTokens: 1_000_000},
		Model:  "claude-sonnet-4-5",
	}))
	p := s.Plans.CreatePlan("p", "", "")
	task, _ := s.Plans.AddTask(p.ID, plan.TaskSpec{Name: "t"})
	dep, err := s.DeployTask(p.ID, task.ID)
	require.NoError(t, err)

	reg := s.WorkerToolSet(dep.Worker, "")
	res := reg.Execute(context.Background(), "spawn_subtask", map[string]any{
		"agentType":      "@coder",
		"prompt":         "do the work",
		"expectedOutput": "the work",
		"blocking":       true,
	})
	require.False(t, res.IsError, res.ForLLM)

	// Cost lands on the spawning worker and shows in the report.
	report := s.CostReport(dep.Worker.WorkerID)
	require.Len(t, report, 1)
	assert.InDelta(t, 3.0, report[0].TotalCost, 1e-9)
	assert.Equal(t, 1, report[0].SubTasks)
}

func TestPermissions_ConfiguredFromService(t *testing.T) {
	s := newTestService(t, runner.NewMockRunner())

	p := s.Plans.CreatePlan("p", "", "")
	task, _ := s.Plans.AddTask(p.ID, plan.TaskSpec{Name: "t"})
	dep, err := s.DeployTask(p.ID, task.ID)
	require.NoError(t, err)

	// Default config safe-lists *.go reads, so the worker's request
	// resolves without ever reaching the user.
	d := s.Permissions.Route(context.Background(), permission.Request{
		OriginWorkerID: dep.Worker.WorkerID,
		Kind:           permission.KindRead,
		Action:         "open",
		Target:         "main.go",
	}, dep.Worker, func(ctx context.Context, req permission.Request) permission.Decision {
		t.Fatal("user callback should not be reached")
		return permission.Decision{}
	})
	assert.Equal(t, permission.OutcomeApprove, d.Outcome)
	assert.Equal(t, "auto-policy", d.DecidedBy)
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(title, message string) {
	f.messages = append(f.messages, title+": "+message)
}

func TestEmergencyStop_CrossPlanAndIdempotent(t *testing.T) {
	s := newTestService(t, runner.NewMockRunner())
	notes := &fakeNotifier{}
	s.WireCollaborators(nil, notes, nil)

	st, err := s.Subtasks.Create(subtask.CreateRequest{
		ParentWorkerID: s.Context().WorkerID,
		WorktreePath:   s.Context().WorktreePath,
		AgentType:      "@coder",
		Prompt:         "long job",
		ParentDepth:    0,
		SpawnContext:   identity.SpawnContextOrchestrator,
	})
	require.NoError(t, err)

	res := s.EmergencyStop(safety.StopOptions{Scope: safety.StopScopeGlobal, Reason: "stop everything"})
	assert.Equal(t, 1, res.SubTasksKilled)
	assert.Equal(t, []string{st.ID}, res.KilledSubTaskIDs)

	got, ok := s.Subtasks.Get(st.ID)
	require.True(t, ok)
	assert.Equal(t, subtask.StatusCancelled, got.Status)

	// The notifier hears about the stop, but not about the no-op repeat.
	require.Len(t, notes.messages, 1)
	assert.Contains(t, notes.messages[0], "Emergency stop")

	again := s.EmergencyStop(safety.StopOptions{Scope: safety.StopScopeGlobal, Reason: "again"})
	assert.Zero(t, again.SubTasksKilled)
	assert.Len(t, notes.messages, 1)
}
