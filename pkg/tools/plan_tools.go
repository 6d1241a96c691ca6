package tools

import (
	"context"
	"fmt"

	"github.com/crewkit/crewkit/pkg/plan"
)

// Plan passthrough tools. All of them authorise as the bound worker;
// the plan layer enforces who may complete what.

func registerPlanTools(r *Registry, deps WorkerDeps) {
	if deps.Plans == nil {
		return
	}
	r.Register(&planCreateTool{deps: deps})
	r.Register(&planAddTaskTool{deps: deps})
	r.Register(&planListTool{deps: deps})
	r.Register(&planDeployTool{deps: deps})
	r.Register(&planCancelTool{deps: deps})
	r.Register(&planCompleteTool{deps: deps})
	r.Register(&planRetryTool{deps: deps})
}

type planCreateTool struct{ deps WorkerDeps }

func (t *planCreateTool) Name() string        { return "plan_create" }
func (t *planCreateTool) Description() string { return "Create a new plan" }
func (t *planCreateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"baseBranch":  map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *planCreateTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	name := stringArg(args, "name")
	if name == "" {
		return ErrorResult("plan_create requires a name")
	}
	p := t.deps.Plans.CreatePlan(name, stringArg(args, "description"), stringArg(args, "baseBranch"))
	return jsonResult(map[string]any{"planId": p.ID, "status": string(p.Status)})
}

type planAddTaskTool struct{ deps WorkerDeps }

func (t *planAddTaskTool) Name() string        { return "plan_add_task" }
func (t *planAddTaskTool) Description() string { return "Add a task to a plan, with dependencies" }
func (t *planAddTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"planId":       map[string]any{"type": "string"},
			"name":         map[string]any{"type": "string"},
			"description":  map[string]any{"type": "string"},
			"agent":        map[string]any{"type": "string"},
			"dependencies": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"targetFiles":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"priority":     map[string]any{"type": "string", "enum": []string{"critical", "high", "normal", "low"}},
		},
		"required": []string{"planId", "name"},
	}
}

func (t *planAddTaskTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	task, err := t.deps.Plans.AddTask(stringArg(args, "planId"), plan.TaskSpec{
		Name:         stringArg(args, "name"),
		Description:  stringArg(args, "description"),
		Agent:        stringArg(args, "agent"),
		Dependencies: stringSliceArg(args, "dependencies"),
		TargetFiles:  stringSliceArg(args, "targetFiles"),
		Priority:     plan.Priority(stringArg(args, "priority")),
	})
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(map[string]any{"taskId": task.ID, "status": string(task.Status)})
}

type planListTool struct{ deps WorkerDeps }

func (t *planListTool) Name() string        { return "plan_list" }
func (t *planListTool) Description() string { return "List a plan's tasks with statuses and readiness" }
func (t *planListTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"planId": map[string]any{"type": "string"},
		},
	}
}

func (t *planListTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	planID := stringArg(args, "planId")
	tasks := t.deps.Plans.GetTasks(planID)
	ready := make(map[string]bool)
	for _, rt := range t.deps.Plans.GetReadyTasks(planID) {
		ready[rt.ID] = true
	}

	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, map[string]any{
			"taskId":       task.ID,
			"name":         task.Name,
			"status":       string(task.Status),
			"priority":     string(task.Priority),
			"dependencies": task.Dependencies,
			"ready":        ready[task.ID],
			"attempts":     task.Attempts,
		})
	}
	return jsonResult(out)
}

type planDeployTool struct{ deps WorkerDeps }

func (t *planDeployTool) Name() string { return "plan_deploy" }
func (t *planDeployTool) Description() string {
	return "Deploy a ready task to a worker; empty taskId picks the highest-priority ready task"
}
func (t *planDeployTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"planId": map[string]any{"type": "string"},
			"taskId": map[string]any{"type": "string"},
		},
		"required": []string{"planId"},
	}
}

func (t *planDeployTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	dep, err := t.deps.Plans.Deploy(stringArg(args, "planId"), stringArg(args, "taskId"), plan.DeployOptions{
		ParentWorkerID: t.deps.Worker.WorkerID,
	})
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(map[string]any{
		"taskId":   dep.Task.ID,
		"workerId": dep.Worker.WorkerID,
		"worktree": dep.Worker.WorktreePath,
		"attempt":  dep.Task.Attempts,
	})
}

type planCancelTool struct{ deps WorkerDeps }

func (t *planCancelTool) Name() string { return "plan_cancel" }
func (t *planCancelTool) Description() string {
	return "Cancel a task; remove=true deletes it instead of resetting it to pending"
}
func (t *planCancelTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"taskId": map[string]any{"type": "string"},
			"remove": map[string]any{"type": "boolean"},
		},
		"required": []string{"taskId"},
	}
}

func (t *planCancelTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if err := t.deps.Plans.CancelTask(stringArg(args, "taskId"), boolArg(args, "remove")); err != nil {
		return ErrorResult(err.Error())
	}
	return SilentResult("task cancelled")
}

type planCompleteTool struct{ deps WorkerDeps }

func (t *planCompleteTool) Name() string { return "plan_complete" }
func (t *planCompleteTool) Description() string {
	return "Complete a worker's task; only the worker's parent or the orchestrator may"
}
func (t *planCompleteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workerId": map[string]any{"type": "string"},
			"success":  map[string]any{"type": "boolean"},
			"detail":   map[string]any{"type": "string"},
		},
		"required": []string{"workerId", "success"},
	}
}

func (t *planCompleteTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	task, err := t.deps.Plans.CompleteTask(
		stringArg(args, "workerId"), t.deps.Worker.WorkerID,
		boolArg(args, "success"), stringArg(args, "detail"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(map[string]any{"taskId": task.ID, "status": string(task.Status)})
}

type planRetryTool struct{ deps WorkerDeps }

func (t *planRetryTool) Name() string        { return "plan_retry" }
func (t *planRetryTool) Description() string { return "Retry a failed task with a fresh worker" }
func (t *planRetryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"taskId": map[string]any{"type": "string"},
		},
		"required": []string{"taskId"},
	}
}

func (t *planRetryTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	dep, err := t.deps.Plans.RetryTask(stringArg(args, "taskId"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(map[string]any{
		"taskId":   dep.Task.ID,
		"workerId": dep.Worker.WorkerID,
		"attempt":  fmt.Sprintf("%d", dep.Task.Attempts),
	})
}
