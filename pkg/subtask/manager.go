// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package subtask

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/logger"
	"github.com/crewkit/crewkit/pkg/monitor"
	"github.com/crewkit/crewkit/pkg/runner"
	"github.com/crewkit/crewkit/pkg/safety"
)

// awaitPollInterval paces Await's status polling.
const awaitPollInterval = 25 * time.Millisecond

// Manager is the single bottleneck for creating and running subtasks.
// Every create runs the full gate pipeline; every terminal transition
// is at-most-once.
type Manager struct {
	limits *safety.Limits
	bus    *monitor.Monitor
	run    runner.Runner

	mu        sync.Mutex
	subtasks  map[string]*SubTask
	cancels   map[string]context.CancelFunc
	listeners []func(Event)
	git       runner.Git
	telemetry runner.Telemetry
}

func NewManager(limits *safety.Limits, bus *monitor.Monitor, run runner.Runner) *Manager {
	m := &Manager{
		limits:   limits,
		bus:      bus,
		run:      run,
		subtasks: make(map[string]*SubTask),
		cancels:  make(map[string]context.CancelFunc),
	}
	// Emergency stops reach live work through here: trip the cancel
	// funcs before the safety ledgers are cleared.
	limits.OnEmergencyStop(func(ev safety.StopEvent) {
		for _, id := range ev.SubTaskIDs {
			m.cancelSubTask(id, ev.Reason)
		}
	})
	return m
}

// SetCollaborators attaches the host's optional git and telemetry
// collaborators. Both are best-effort: a nil or failing collaborator
// never blocks a spawn.
func (m *Manager) SetCollaborators(git runner.Git, telemetry runner.Telemetry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.git = git
	m.telemetry = telemetry
}

// OnChange registers a status-change listener. Listeners run
// synchronously after each transition.
func (m *Manager) OnChange(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Create runs the gate pipeline in order: depth, cycle, rate, total,
// parallel. On success the subtask is registered pending and its spawn
// recorded. All failures are typed errors for the tool boundary.
func (m *Manager) Create(req CreateRequest) (*SubTask, error) {
	spawnCtx := req.SpawnContext
	if spawnCtx == identity.SpawnContextSubtask {
		spawnCtx = identity.SpawnContextAgent
	}

	if err := m.limits.EnforceDepthLimit(req.ParentDepth, spawnCtx); err != nil {
		return nil, err
	}

	id := "subtask-" + uuid.NewString()
	candidate := safety.AncestryEntry{
		SubTaskID:       id,
		ParentSubTaskID: req.ParentSubTaskID,
		WorkerID:        req.ParentWorkerID,
		PlanID:          req.PlanID,
		AgentType:       req.AgentType,
		PromptHash:      safety.PromptHash(req.Prompt),
	}
	if err := m.limits.DetectCycle(m.limits.ProposedChain(req.ParentSubTaskID, candidate)); err != nil {
		logger.WarnCF("subtask", "Cycle detected, refusing spawn", map[string]any{
			"parent_worker": req.ParentWorkerID,
			"agent_type":    req.AgentType,
		})
		return nil, err
	}

	if err := m.limits.CheckRateLimit(req.ParentWorkerID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	active, running := m.countsLocked(req.ParentWorkerID)
	m.mu.Unlock()
	if err := m.limits.CheckTotalLimit(active); err != nil {
		return nil, err
	}
	if err := m.limits.CheckParallelLimit(running); err != nil {
		return nil, err
	}

	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = m.resolveBranch(req.WorktreePath)
	}

	st := &SubTask{
		ID:             id,
		ParentWorkerID: req.ParentWorkerID,
		ParentTaskID:   req.ParentTaskID,
		PlanID:         req.PlanID,
		WorktreePath:   req.WorktreePath,
		BaseBranch:     baseBranch,
		AgentType:      req.AgentType,
		Prompt:         req.Prompt,
		ExpectedOutput: req.ExpectedOutput,
		TargetFiles:    req.TargetFiles,
		Model:          req.Model,
		CurrentDepth:   req.ParentDepth,
		Depth:          req.ParentDepth + 1,
		SpawnContext:   spawnCtx,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}

	m.limits.RegisterAncestry(candidate)
	m.limits.RecordSpawn(req.ParentWorkerID)

	m.mu.Lock()
	m.subtasks[id] = st
	m.mu.Unlock()

	m.bus.StartMonitoring(id, req.ParentWorkerID)

	logger.InfoCF("subtask", "Subtask created", map[string]any{
		"subtask_id":    id,
		"agent_type":    req.AgentType,
		"depth":         st.Depth,
		"parent_worker": req.ParentWorkerID,
	})
	m.emitTelemetry("subtask_created", map[string]any{
		"subtask_id": id,
		"agent_type": req.AgentType,
		"depth":      st.Depth,
	})
	m.emit(Event{SubTaskID: id, Status: StatusPending})
	return m.snapshot(id), nil
}

// resolveBranch asks the git collaborator for the worktree's current
// branch. Best-effort: any failure leaves the branch empty.
func (m *Manager) resolveBranch(worktreePath string) string {
	m.mu.Lock()
	git := m.git
	m.mu.Unlock()
	if git == nil {
		return ""
	}
	branch, err := git.CurrentBranch(worktreePath)
	if err != nil {
		logger.WarnCF("subtask", "Could not resolve base branch, continuing without it", map[string]any{
			"worktree": worktreePath,
			"error":    err.Error(),
		})
		return ""
	}
	return branch
}

func (m *Manager) emitTelemetry(event string, props map[string]any) {
	m.mu.Lock()
	tel := m.telemetry
	m.mu.Unlock()
	if tel != nil {
		tel.Emit(event, props)
	}
}

// Execute runs the subtask to a terminal status. The pending→running
// transition is a CAS; a second Execute on the same id fails.
func (m *Manager) Execute(ctx context.Context, id string) (*SubTask, error) {
	m.mu.Lock()
	st, ok := m.subtasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("subtask %s: %w", id, ErrNotFound)
	}
	if st.Status != StatusPending {
		status := st.Status
		m.mu.Unlock()
		return nil, fmt.Errorf("subtask %s is %s, not pending", id, status)
	}
	st.Status = StatusRunning
	runCtx, cancel := context.WithCancel(ctx)
	m.cancels[id] = cancel
	req := runner.Request{
		AgentType:    st.AgentType,
		Prompt:       st.Prompt,
		WorktreePath: st.WorktreePath,
		Model:        st.Model,
	}
	m.mu.Unlock()

	m.emit(Event{SubTaskID: id, Status: StatusRunning})

	res, runErr := m.run.Run(runCtx, req)
	cancel()

	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()

	switch {
	case res != nil && res.Status == runner.StatusCancelled:
		m.UpdateStatus(id, StatusCancelled, "", "cancelled")
	case runErr != nil || (res != nil && res.Status == runner.StatusFailed):
		msg := "agent runtime error"
		if runErr != nil {
			msg = runErr.Error()
		} else if res.Error != "" {
			msg = res.Error
		}
		m.recordUsage(id, res)
		m.failWith(id, msg, runner.Classify(runErr))
	default:
		m.recordUsage(id, res)
		m.UpdateStatus(id, StatusCompleted, res.Output, "")
	}

	return m.snapshot(id), nil
}

func (m *Manager) recordUsage(id string, res *runner.Result) {
	if res == nil || res.Usage.TotalTokens == 0 {
		return
	}
	m.limits.TrackSubTaskCost(id, res.Usage.InputTokens, res.Usage.OutputTokens, res.Model)
}

func (m *Manager) failWith(id, msg string, errType monitor.ErrorType) {
	if errType == "" {
		errType = monitor.ErrorUnknown
	}
	m.transition(id, StatusFailed, "", msg, errType)
}

// UpdateStatus applies a status transition. Terminal statuses are
// final: later calls are ignored with a logged warning.
func (m *Manager) UpdateStatus(id string, status Status, result, errMsg string) bool {
	return m.transition(id, status, result, errMsg, monitor.ErrorUnknown)
}

func (m *Manager) transition(id string, status Status, result, errMsg string, errType monitor.ErrorType) bool {
	m.mu.Lock()
	st, ok := m.subtasks[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if st.Status.Terminal() {
		prev := st.Status
		m.mu.Unlock()
		logger.WarnCF("subtask", "Ignoring status update on terminal subtask", map[string]any{
			"subtask_id": id,
			"current":    string(prev),
			"attempted":  string(status),
		})
		return false
	}
	st.Status = status
	if result != "" {
		st.Result = result
	}
	if errMsg != "" {
		st.Error = errMsg
	}
	if status.Terminal() {
		st.FinishedAt = time.Now()
	}
	parent := st.ParentWorkerID
	m.mu.Unlock()

	if status.Terminal() {
		m.emitTerminalUpdate(id, parent, status, result, errMsg, errType)
		m.emitTelemetry("subtask_terminal", map[string]any{
			"subtask_id": id,
			"status":     string(status),
		})
	}
	m.emit(Event{SubTaskID: id, Status: status, Result: result, Error: errMsg})
	return true
}

func (m *Manager) emitTerminalUpdate(id, parent string, status Status, result, errMsg string, errType monitor.ErrorType) {
	switch status {
	case StatusCompleted:
		m.bus.QueueUpdate(monitor.Update{
			Kind:           monitor.UpdateCompleted,
			SubTaskID:      id,
			ParentWorkerID: parent,
			Result:         result,
			Status:         string(StatusCompleted),
		})
	case StatusFailed:
		upd := monitor.Update{
			Kind:           monitor.UpdateFailed,
			SubTaskID:      id,
			ParentWorkerID: parent,
			Error:          errMsg,
			ErrorType:      errType,
		}
		if runner.Retriable(errType) {
			upd.Retry = &monitor.RetryInfo{NextRetryInMS: runner.RetryBackoffMS(errType)}
		}
		m.bus.QueueUpdate(upd)
	case StatusCancelled:
		m.bus.QueueUpdate(monitor.Update{
			Kind:           monitor.UpdateFailed,
			SubTaskID:      id,
			ParentWorkerID: parent,
			Error:          "cancelled: " + errMsg,
			ErrorType:      monitor.ErrorUnknown,
		})
	}
	m.bus.StopMonitoring(id)
}

// Cancel trips the subtask's cancellation and marks it cancelled.
func (m *Manager) Cancel(id, reason string) bool {
	return m.cancelSubTask(id, reason)
}

func (m *Manager) cancelSubTask(id, reason string) bool {
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if reason == "" {
		reason = "cancelled by caller"
	}
	return m.transition(id, StatusCancelled, "", reason, monitor.ErrorUnknown)
}

// Get returns a snapshot of the subtask.
func (m *Manager) Get(id string) (*SubTask, bool) {
	st := m.snapshot(id)
	return st, st != nil
}

// ListByWorker returns snapshots of all subtasks spawned by a worker.
func (m *Manager) ListByWorker(parentWorkerID string) []*SubTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SubTask
	for _, st := range m.subtasks {
		if st.ParentWorkerID == parentWorkerID {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out
}

// SpawningWorkers returns the distinct workers that have created
// subtasks, sorted.
func (m *Manager) SpawningWorkers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, st := range m.subtasks {
		seen[st.ParentWorkerID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ReapTerminal drops terminal subtasks that finished at least olderThan
// ago, releasing their ancestry and cost ledger rows. Call it after any
// cost reporting the session needs; reaped spend is gone from the
// ledger. Returns the number of subtasks reaped.
func (m *Manager) ReapTerminal(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	var reaped []string
	for id, st := range m.subtasks {
		if st.Status.Terminal() && !st.FinishedAt.After(cutoff) {
			reaped = append(reaped, id)
			delete(m.subtasks, id)
		}
	}
	m.mu.Unlock()

	for _, id := range reaped {
		m.limits.ClearAncestry(id)
	}
	if len(reaped) > 0 {
		logger.InfoCF("subtask", "Reaped terminal subtasks", map[string]any{
			"count": len(reaped),
		})
	}
	return len(reaped)
}

// Await polls the given subtasks until all are terminal or the timeout
// elapses. Timed-out ids are reported without cancelling their work.
func (m *Manager) Await(ctx context.Context, ids []string, timeout time.Duration) (map[string]*SubTask, []string) {
	deadline := time.Now().Add(timeout)
	for {
		done := make(map[string]*SubTask, len(ids))
		var waiting []string
		for _, id := range ids {
			st := m.snapshot(id)
			if st == nil || st.Status.Terminal() {
				done[id] = st
			} else {
				waiting = append(waiting, id)
			}
		}
		if len(waiting) == 0 {
			return done, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return done, waiting
		}
		select {
		case <-ctx.Done():
		case <-time.After(awaitPollInterval):
		}
	}
}

func (m *Manager) snapshot(id string) *SubTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.subtasks[id]
	if !ok {
		return nil
	}
	cp := *st
	return &cp
}

// countsLocked returns (pending+running, running) for a worker.
func (m *Manager) countsLocked(parentWorkerID string) (int, int) {
	active, running := 0, 0
	for _, st := range m.subtasks {
		if st.ParentWorkerID != parentWorkerID {
			continue
		}
		switch st.Status {
		case StatusPending:
			active++
		case StatusRunning:
			active++
			running++
		}
	}
	return active, running
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	listeners := make([]func(Event), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
