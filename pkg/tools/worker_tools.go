// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/crewkit/crewkit/pkg/agents"
	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/monitor"
	"github.com/crewkit/crewkit/pkg/plan"
	"github.com/crewkit/crewkit/pkg/subtask"
)

const defaultAwaitTimeout = 300 * time.Second

// WorkerDeps binds a tool set to one worker's identity and the shared
// orchestration collaborators.
type WorkerDeps struct {
	Worker       identity.WorkerContext
	OwnSubTaskID string // set when this worker itself runs as a subtask
	Subtasks     *subtask.Manager
	Bus          *monitor.Monitor
	Plans        *plan.Manager
	Agents       *agents.Registry
}

// NewWorkerToolSet builds the registry a single worker sees. Identity
// is captured here, once; tools never regenerate ids.
func NewWorkerToolSet(deps WorkerDeps) *Registry {
	r := NewRegistry()
	r.Register(&listAgentsTool{deps: deps})
	r.Register(&spawnSubtaskTool{deps: deps})
	r.Register(&spawnParallelTool{deps: deps})
	r.Register(&awaitSubtasksTool{deps: deps})
	r.Register(&reportCompletionTool{deps: deps})
	r.Register(&notifyParentTool{deps: deps})
	r.Register(&pollUpdatesTool{deps: deps})
	r.Register(&workerStatusTool{deps: deps})
	r.Register(&sendMessageTool{deps: deps})
	registerPlanTools(r, deps)
	return r
}

func jsonResult(v any) *ToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return SilentResult(string(data))
}

// list_agents

type listAgentsTool struct{ deps WorkerDeps }

func (t *listAgentsTool) Name() string        { return "list_agents" }
func (t *listAgentsTool) Description() string { return "List available agents (all, specialists, or custom)" }
func (t *listAgentsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filter": map[string]any{"type": "string", "enum": []string{"all", "specialists", "custom"}},
		},
	}
}

func (t *listAgentsTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	filter := agents.ListFilter(stringArg(args, "filter"))
	if filter == "" {
		filter = agents.FilterAll
	}
	return jsonResult(t.deps.Agents.List(filter))
}

// spawn_subtask

type spawnSubtaskTool struct{ deps WorkerDeps }

func (t *spawnSubtaskTool) Name() string { return "spawn_subtask" }
func (t *spawnSubtaskTool) Description() string {
	return "Delegate a task to another agent in this worktree; blocking waits for the result"
}
func (t *spawnSubtaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agentType":      map[string]any{"type": "string"},
			"prompt":         map[string]any{"type": "string"},
			"expectedOutput": map[string]any{"type": "string"},
			"targetFiles":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"blocking":       map[string]any{"type": "boolean"},
			"model":          map[string]any{"type": "string"},
		},
		"required": []string{"agentType", "prompt", "expectedOutput"},
	}
}

func (t *spawnSubtaskTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	st, res := t.spawn(args)
	if res != nil {
		return res
	}

	if boolArg(args, "blocking") {
		final, err := t.deps.Subtasks.Execute(ctx, st.ID)
		if err != nil {
			return ErrorResult(err.Error())
		}
		return jsonResult(map[string]any{
			"taskId": final.ID,
			"status": string(final.Status),
			"result": final.Result,
			"error":  final.Error,
		})
	}

	go t.deps.Subtasks.Execute(context.Background(), st.ID)
	return jsonResult(map[string]any{"taskId": st.ID, "status": "spawned"})
}

func (t *spawnSubtaskTool) spawn(args map[string]any) (*subtask.SubTask, *ToolResult) {
	agentType := stringArg(args, "agentType")
	prompt := stringArg(args, "prompt")
	if agentType == "" || prompt == "" {
		return nil, ErrorResult("spawn_subtask requires agentType and prompt")
	}
	st, err := t.deps.Subtasks.Create(subtask.CreateRequest{
		ParentWorkerID:  t.deps.Worker.WorkerID,
		ParentSubTaskID: t.deps.OwnSubTaskID,
		ParentTaskID:    t.deps.Worker.TaskID,
		PlanID:          t.deps.Worker.PlanID,
		WorktreePath:    t.deps.Worker.WorktreePath,
		AgentType:       agentType,
		Prompt:          prompt,
		ExpectedOutput:  stringArg(args, "expectedOutput"),
		TargetFiles:     stringSliceArg(args, "targetFiles"),
		Model:           stringArg(args, "model"),
		ParentDepth:     t.deps.Worker.Depth,
		SpawnContext:    t.deps.Worker.ChildSpawnContext(),
	})
	if err != nil {
		return nil, ErrorResult(err.Error())
	}
	return st, nil
}

// spawn_parallel_subtasks

type spawnParallelTool struct{ deps WorkerDeps }

func (t *spawnParallelTool) Name() string { return "spawn_parallel_subtasks" }
func (t *spawnParallelTool) Description() string {
	return "Fan out several subtasks at once; blocking waits for all of them"
}
func (t *spawnParallelTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subtasks": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
			"blocking": map[string]any{"type": "boolean"},
		},
		"required": []string{"subtasks"},
	}
}

func (t *spawnParallelTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	specs, _ := args["subtasks"].([]any)
	if len(specs) == 0 {
		return ErrorResult("spawn_parallel_subtasks requires a non-empty subtasks array")
	}

	single := &spawnSubtaskTool{deps: t.deps}
	var ids []string
	var failures []string
	for i, raw := range specs {
		spec, ok := raw.(map[string]any)
		if !ok {
			failures = append(failures, fmt.Sprintf("subtask %d: not an object", i))
			continue
		}
		st, errRes := single.spawn(spec)
		if errRes != nil {
			failures = append(failures, fmt.Sprintf("subtask %d: %s", i, errRes.ForLLM))
			continue
		}
		ids = append(ids, st.ID)
		go t.deps.Subtasks.Execute(context.Background(), st.ID)
	}

	if boolArg(args, "blocking") && len(ids) > 0 {
		done, waiting := t.deps.Subtasks.Await(ctx, ids, defaultAwaitTimeout)
		return jsonResult(map[string]any{
			"taskIds":  ids,
			"results":  summariseAwait(done),
			"timedOut": waiting,
			"failures": failures,
		})
	}
	return jsonResult(map[string]any{"taskIds": ids, "status": "spawned", "failures": failures})
}

// await_subtasks

type awaitSubtasksTool struct{ deps WorkerDeps }

func (t *awaitSubtasksTool) Name() string { return "await_subtasks" }
func (t *awaitSubtasksTool) Description() string {
	return "Wait for subtasks to reach a terminal status, or report a timeout"
}
func (t *awaitSubtasksTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"taskIds":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"timeoutSeconds": map[string]any{"type": "integer"},
		},
		"required": []string{"taskIds"},
	}
}

func (t *awaitSubtasksTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	ids := stringSliceArg(args, "taskIds")
	if len(ids) == 0 {
		return ErrorResult("await_subtasks requires taskIds")
	}
	timeout := defaultAwaitTimeout
	if secs := intArg(args, "timeoutSeconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	// A timeout does not cancel the underlying work; callers may re-await.
	done, waiting := t.deps.Subtasks.Await(ctx, ids, timeout)
	return jsonResult(map[string]any{
		"results":  summariseAwait(done),
		"timedOut": waiting,
	})
}

func summariseAwait(done map[string]*subtask.SubTask) map[string]map[string]any {
	out := make(map[string]map[string]any, len(done))
	for id, st := range done {
		if st == nil {
			out[id] = map[string]any{"status": "not_found"}
			continue
		}
		out[id] = map[string]any{
			"status": string(st.Status),
			"result": st.Result,
			"error":  st.Error,
		}
	}
	return out
}

// report_completion

type reportCompletionTool struct{ deps WorkerDeps }

func (t *reportCompletionTool) Name() string { return "report_completion" }
func (t *reportCompletionTool) Description() string {
	return "Report this subtask's terminal status with a commit message describing the change"
}
func (t *reportCompletionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"commitMessage": map[string]any{"type": "string"},
			"output":        map[string]any{"type": "string"},
			"status":        map[string]any{"type": "string", "enum": []string{"completed", "failed"}},
		},
		"required": []string{"commitMessage", "output"},
	}
}

func (t *reportCompletionTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if strings.TrimSpace(stringArg(args, "commitMessage")) == "" {
		return ErrorResult("report_completion requires a non-empty commitMessage: describe what you changed so the parent can commit it")
	}
	if t.deps.OwnSubTaskID == "" {
		return NewToolResult("report_completion: this worker is not a subtask; nothing to report")
	}

	status := subtask.StatusCompleted
	errMsg := ""
	output := stringArg(args, "output")
	if stringArg(args, "status") == "failed" {
		status = subtask.StatusFailed
		errMsg = output
	}
	if !t.deps.Subtasks.UpdateStatus(t.deps.OwnSubTaskID, status, output, errMsg) {
		return ErrorResult(fmt.Sprintf("subtask %s is already terminal", t.deps.OwnSubTaskID))
	}
	return jsonResult(map[string]any{"taskId": t.deps.OwnSubTaskID, "status": string(status)})
}

// notify_parent

type notifyParentTool struct{ deps WorkerDeps }

func (t *notifyParentTool) Name() string { return "notify_parent" }
func (t *notifyParentTool) Description() string {
	return "Send a progress or idle update up to the parent"
}
func (t *notifyParentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":     map[string]any{"type": "string", "enum": []string{"progress", "idle"}},
			"message":  map[string]any{"type": "string"},
			"progress": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		},
		"required": []string{"type", "message"},
	}
}

func (t *notifyParentTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if t.deps.Worker.Owner == nil {
		return NewToolResult("notify_parent: no parent to notify")
	}

	subTaskID := t.deps.OwnSubTaskID
	if subTaskID == "" {
		subTaskID = t.deps.Worker.WorkerID
	}
	update := monitor.Update{
		SubTaskID:      subTaskID,
		ParentWorkerID: t.deps.Worker.Owner.OwnerID,
	}
	switch stringArg(args, "type") {
	case "idle":
		update.Kind = monitor.UpdateIdle
		update.IdleReason = stringArg(args, "message")
	case "progress":
		update.Kind = monitor.UpdateProgress
		update.Progress = intArg(args, "progress", 0)
		update.ProgressReport = stringArg(args, "message")
	default:
		return ErrorResult("notify_parent type must be progress or idle")
	}
	t.deps.Bus.QueueUpdate(update)
	return SilentResult("update queued")
}

// poll_subtask_updates

type pollUpdatesTool struct{ deps WorkerDeps }

func (t *pollUpdatesTool) Name() string { return "poll_subtask_updates" }
func (t *pollUpdatesTool) Description() string {
	return "Drain queued updates from this worker's children"
}
func (t *pollUpdatesTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *pollUpdatesTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	updates := t.deps.Bus.ConsumeUpdates(t.deps.Worker.WorkerID)
	if len(updates) == 0 {
		return SilentResult("[]")
	}
	lines := make([]string, 0, len(updates))
	for _, u := range updates {
		lines = append(lines, monitor.FormatUpdate(u))
	}
	return jsonResult(map[string]any{"count": len(updates), "updates": lines})
}

// get_worker_status

type workerStatusTool struct{ deps WorkerDeps }

func (t *workerStatusTool) Name() string { return "get_worker_status" }
func (t *workerStatusTool) Description() string {
	return "Snapshot the status of a subtask or deployed worker"
}
func (t *workerStatusTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workerId": map[string]any{"type": "string"},
		},
		"required": []string{"workerId"},
	}
}

func (t *workerStatusTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	id := stringArg(args, "workerId")
	if id == "" {
		return ErrorResult("get_worker_status requires workerId")
	}
	if st, ok := t.deps.Subtasks.Get(id); ok {
		return jsonResult(map[string]any{
			"id":        st.ID,
			"status":    string(st.Status),
			"agentType": st.AgentType,
			"depth":     st.Depth,
			"result":    st.Result,
			"error":     st.Error,
		})
	}
	if t.deps.Plans != nil {
		if wctx, parent, ok := t.deps.Plans.Worker(id); ok {
			return jsonResult(map[string]any{
				"id":       wctx.WorkerID,
				"taskId":   wctx.TaskID,
				"planId":   wctx.PlanID,
				"parent":   parent,
				"worktree": wctx.WorktreePath,
				"status":   "running",
			})
		}
	}
	return ErrorResult(fmt.Sprintf("no subtask or worker with id %s", id))
}

// send_message_to_worker

type sendMessageTool struct{ deps WorkerDeps }

func (t *sendMessageTool) Name() string { return "send_message_to_worker" }
func (t *sendMessageTool) Description() string {
	return "Queue a message into a running worker's input channel"
}
func (t *sendMessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workerId": map[string]any{"type": "string"},
			"message":  map[string]any{"type": "string"},
		},
		"required": []string{"workerId", "message"},
	}
}

func (t *sendMessageTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if t.deps.Plans == nil {
		return ErrorResult("no plan manager available")
	}
	err := t.deps.Plans.SendMessageToWorker(stringArg(args, "workerId"), stringArg(args, "message"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	return SilentResult("message queued")
}
