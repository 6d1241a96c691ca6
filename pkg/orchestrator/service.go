// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package orchestrator is the top-level facade: it owns the plan
// registry, the worker registry, the update bus, and the subtask
// manager, and wires them together for a session.
package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crewkit/crewkit/pkg/agents"
	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/logger"
	"github.com/crewkit/crewkit/pkg/monitor"
	"github.com/crewkit/crewkit/pkg/permission"
	"github.com/crewkit/crewkit/pkg/plan"
	"github.com/crewkit/crewkit/pkg/runner"
	"github.com/crewkit/crewkit/pkg/safety"
	"github.com/crewkit/crewkit/pkg/store"
	"github.com/crewkit/crewkit/pkg/subtask"
	"github.com/crewkit/crewkit/pkg/tools"
)

type Service struct {
	cfg    *config.Config
	self   identity.WorkerContext
	limits *safety.Limits
	bus    *monitor.Monitor

	Subtasks    *subtask.Manager
	Plans       *plan.Manager
	Agents      *agents.Registry
	Permissions *permission.Router

	mu             sync.Mutex
	workerWatchers []func([]string)
	notifier       runner.Notifier
}

// New builds a session-scoped service. The orchestrator's own identity
// is captured once here; everything downstream routes updates to it.
func New(cfg *config.Config, workspaceRoot string, run runner.Runner) (*Service, error) {
	worktree, err := identity.ResolveWorktree(workspaceRoot, "", cfg.Workspace)
	if err != nil {
		return nil, err
	}

	self, err := identity.NewWorkerContext("", "", worktree, 0, identity.SpawnContextOrchestrator, nil)
	if err != nil {
		return nil, err
	}

	limits := safety.NewLimits(cfg.Safety, cfg.Pricing)
	bus := monitor.New(cfg.Monitor.MaxQueuedUpdates)

	s := &Service{
		cfg:         cfg,
		self:        self,
		limits:      limits,
		bus:         bus,
		Subtasks:    subtask.NewManager(limits, bus, run),
		Plans:       plan.NewManager(bus, worktree, self.WorkerID),
		Agents:      agents.NewRegistry(worktree),
		Permissions: permission.NewRouterFromConfig(cfg.Permission, nil, nil),
	}

	logger.InfoCF("orchestrator", "Session started", map[string]any{
		"worker_id": self.WorkerID,
		"worktree":  worktree,
	})
	return s, nil
}

// Context returns the orchestrator's own immutable identity.
func (s *Service) Context() identity.WorkerContext { return s.self }

// Limits exposes the safety engine for callers that report cost or
// subscribe to stop events.
func (s *Service) Limits() *safety.Limits { return s.limits }

// Bus exposes the update bus.
func (s *Service) Bus() *monitor.Monitor { return s.bus }

// DeployTask deploys a ready task, routing its updates back to this
// session. Empty taskID picks the highest-priority ready task.
func (s *Service) DeployTask(planID, taskID string) (*plan.Deployment, error) {
	dep, err := s.Plans.Deploy(planID, taskID, plan.DeployOptions{
		ParentWorkerID: s.self.WorkerID,
		SpawnContext:   identity.SpawnContextOrchestrator,
	})
	if err != nil {
		return nil, err
	}
	s.notifyWorkersChanged()
	return dep, nil
}

// CompleteTask completes on behalf of the session (always authorised).
func (s *Service) CompleteTask(workerID string, success bool, detail string) (*plan.Task, error) {
	task, err := s.Plans.CompleteTask(workerID, s.self.WorkerID, success, detail)
	if err != nil {
		return nil, err
	}
	s.notifyWorkersChanged()
	return task, nil
}

// RetryTask redeploys a failed task and announces the registry change.
func (s *Service) RetryTask(taskID string) (*plan.Deployment, error) {
	dep, err := s.Plans.RetryTask(taskID)
	if err != nil {
		return nil, err
	}
	s.notifyWorkersChanged()
	return dep, nil
}

// CancelTask stops a task; remove deletes it entirely.
func (s *Service) CancelTask(taskID string, remove bool) error {
	if err := s.Plans.CancelTask(taskID, remove); err != nil {
		return err
	}
	s.notifyWorkersChanged()
	return nil
}

// SendMessageToWorker queues a message into a running worker's input.
func (s *Service) SendMessageToWorker(workerID, message string) error {
	return s.Plans.SendMessageToWorker(workerID, message)
}

// OnWorkersChanged subscribes to worker-registry changes. The callback
// receives the current deployed worker ids.
func (s *Service) OnWorkersChanged(fn func(workerIDs []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerWatchers = append(s.workerWatchers, fn)
}

func (s *Service) notifyWorkersChanged() {
	workers := s.Plans.Workers()
	s.mu.Lock()
	watchers := make([]func([]string), len(s.workerWatchers))
	copy(watchers, s.workerWatchers)
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(workers)
	}
}

// WireCollaborators attaches the host's optional collaborators: git for
// base-branch resolution at spawn, a notifier for out-of-band operator
// alerts, and a telemetry sink. All are best-effort; any may be nil.
func (s *Service) WireCollaborators(git runner.Git, notifier runner.Notifier, telemetry runner.Telemetry) {
	s.Subtasks.SetCollaborators(git, telemetry)
	s.mu.Lock()
	s.notifier = notifier
	s.mu.Unlock()
}

// WirePermissions rebuilds the permission router once the host hands
// over its mailbox and rule store. Session memo state starts fresh.
func (s *Service) WirePermissions(mailbox permission.ParentMailbox, rules *store.Store) {
	s.Permissions = permission.NewRouterFromConfig(s.cfg.Permission, mailbox, rules)
}

// RegisterStandaloneParentHandler wires push delivery for parents that
// cannot poll.
func (s *Service) RegisterStandaloneParentHandler(workerID string, fn monitor.PushHandler) {
	s.bus.RegisterStandaloneParentHandler(workerID, fn)
}

// WorkerToolSet builds the tool registry for a deployed worker. The
// worker's identity is captured once; the registry holds it for the
// worker's lifetime.
func (s *Service) WorkerToolSet(wctx identity.WorkerContext, ownSubTaskID string) *tools.Registry {
	return tools.NewWorkerToolSet(tools.WorkerDeps{
		Worker:       wctx,
		OwnSubTaskID: ownSubTaskID,
		Subtasks:     s.Subtasks,
		Bus:          s.bus,
		Plans:        s.Plans,
		Agents:       s.Agents,
	})
}

// EmergencyStop is the cross-plan panic button. Subtask cancellation
// happens through the safety engine's listeners before ledger cleanup.
func (s *Service) EmergencyStop(opts safety.StopOptions) safety.StopResult {
	res := s.limits.EmergencyStop(opts)
	s.notifyWorkersChanged()
	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()
	if notifier != nil && res.SubTasksKilled > 0 {
		notifier.Notify("Emergency stop", fmt.Sprintf("Stopped %d subtask(s): %s", res.SubTasksKilled, res.Reason))
	}
	return res
}

// WorkerCost is one row of a cost report.
type WorkerCost struct {
	WorkerID  string
	SubTasks  int
	TotalCost float64
}

// CostReport aggregates spend per spawning worker, highest first. With
// no ids given it covers every worker that has spawned subtasks, plus
// the session itself.
func (s *Service) CostReport(workerIDs ...string) []WorkerCost {
	if len(workerIDs) == 0 {
		seen := map[string]bool{s.self.WorkerID: true}
		workerIDs = append(workerIDs, s.self.WorkerID)
		for _, id := range s.Plans.Workers() {
			if !seen[id] {
				seen[id] = true
				workerIDs = append(workerIDs, id)
			}
		}
		for _, id := range s.Subtasks.SpawningWorkers() {
			if !seen[id] {
				seen[id] = true
				workerIDs = append(workerIDs, id)
			}
		}
	}

	out := make([]WorkerCost, 0, len(workerIDs))
	for _, id := range workerIDs {
		out = append(out, WorkerCost{
			WorkerID:  id,
			SubTasks:  len(s.Subtasks.ListByWorker(id)),
			TotalCost: s.limits.TotalCostForWorker(id),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalCost > out[j].TotalCost })
	return out
}

// ReapTerminal releases bookkeeping for subtasks that have been
// terminal at least olderThan. Run it after harvesting CostReport;
// reaped subtasks no longer contribute to it.
func (s *Service) ReapTerminal(olderThan time.Duration) int {
	return s.Subtasks.ReapTerminal(olderThan)
}
