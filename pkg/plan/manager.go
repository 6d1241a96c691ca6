// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package plan

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/logger"
	"github.com/crewkit/crewkit/pkg/monitor"
)

// workerMessageBound caps each worker's inbound message queue.
const workerMessageBound = 256

// workerRecord tracks a deployed worker for routing and authorisation.
type workerRecord struct {
	ctx            identity.WorkerContext
	taskID         string
	planID         string
	parentWorkerID string
	messages       []string
	cancel         func()
}

// Deployment is the result of deploying a ready task.
type Deployment struct {
	Task   *Task
	Worker identity.WorkerContext
}

// Manager owns plans, their task graphs, and the deployed-worker
// registry. One Manager per orchestrator session.
type Manager struct {
	bus            *monitor.Monitor
	workspaceRoot  string
	orchestratorID string

	mu      sync.Mutex
	plans   map[string]*Plan
	tasks   map[string]*Task // taskID -> task
	order   []string         // task insertion order
	workers map[string]*workerRecord
	nextSeq int
}

func NewManager(bus *monitor.Monitor, workspaceRoot, orchestratorID string) *Manager {
	return &Manager{
		bus:            bus,
		workspaceRoot:  workspaceRoot,
		orchestratorID: orchestratorID,
		plans:          make(map[string]*Plan),
		tasks:          make(map[string]*Task),
		workers:        make(map[string]*workerRecord),
	}
}

// CreatePlan registers a new active plan.
func (m *Manager) CreatePlan(name, description, baseBranch string) *Plan {
	p := &Plan{
		ID:          "plan-" + uuid.NewString(),
		Name:        name,
		Description: description,
		BaseBranch:  baseBranch,
		Status:      PlanActive,
		CreatedAt:   time.Now(),
	}
	m.mu.Lock()
	m.plans[p.ID] = p
	m.mu.Unlock()

	logger.InfoCF("plan", "Plan created", map[string]any{"plan_id": p.ID, "name": name})
	cp := *p
	return &cp
}

// GetPlan returns a snapshot of a plan.
func (m *Manager) GetPlan(planID string) (*Plan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// AddTask validates dependencies (existence and acyclicity) and
// appends the task in insertion order.
func (m *Manager) AddTask(planID string, spec TaskSpec) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[planID]; !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	for _, dep := range spec.Dependencies {
		t, ok := m.tasks[dep]
		if !ok || t.PlanID != planID {
			return nil, fmt.Errorf("dependency %s: %w", dep, ErrUnknownDependency)
		}
	}

	priority := spec.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	t := &Task{
		ID:            "task-" + uuid.NewString(),
		PlanID:        planID,
		Name:          spec.Name,
		Description:   spec.Description,
		Agent:         spec.Agent,
		Dependencies:  append([]string(nil), spec.Dependencies...),
		TargetFiles:   append([]string(nil), spec.TargetFiles...),
		Priority:      priority,
		ParallelGroup: spec.ParallelGroup,
		Status:        TaskPending,
		CreatedAt:     time.Now(),
		seq:           m.nextSeq,
	}

	// Dependencies can only reference existing tasks, so a new node
	// cannot close a cycle; the walk guards against future edge edits.
	if m.hasCycleLocked(t) {
		return nil, fmt.Errorf("task %q: %w", spec.Name, ErrDependencyCycle)
	}

	m.nextSeq++
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)

	cp := *t
	return &cp, nil
}

// hasCycleLocked runs a DFS from the candidate task over the dependency
// edges, treating the candidate as already inserted.
func (m *Manager) hasCycleLocked(candidate *Task) bool {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)
	lookup := func(id string) *Task {
		if id == candidate.ID {
			return candidate
		}
		return m.tasks[id]
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case inStack:
			return true
		case done:
			return false
		}
		state[id] = inStack
		t := lookup(id)
		if t != nil {
			for _, dep := range t.Dependencies {
				if visit(dep) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}
	return visit(candidate.ID)
}

// GetTasks returns the plan's tasks in insertion order; empty planID
// returns every task.
func (m *Manager) GetTasks(planID string) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, id := range m.order {
		t := m.tasks[id]
		if planID != "" && t.PlanID != planID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// GetReadyTasks returns pending tasks whose dependencies are all
// completed, in insertion order.
func (m *Manager) GetReadyTasks(planID string) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, id := range m.order {
		t := m.tasks[id]
		if planID != "" && t.PlanID != planID {
			continue
		}
		if m.isReadyLocked(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (m *Manager) isReadyLocked(t *Task) bool {
	if t.Status != TaskPending {
		return false
	}
	for _, dep := range t.Dependencies {
		d, ok := m.tasks[dep]
		if !ok || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// DeployOptions steers worker creation for a deployment.
type DeployOptions struct {
	// ParentWorkerID receives the worker's updates. When the caller is
	// an orchestrator session this is the orchestrator's own worker id.
	ParentWorkerID string
	SpawnContext   identity.SpawnContext
}

// Deploy transitions a ready task to running and creates its worker.
// Empty taskID picks the highest-priority ready task in the plan, ties
// broken by insertion order.
func (m *Manager) Deploy(planID, taskID string, opts DeployOptions) (*Deployment, error) {
	m.mu.Lock()

	var t *Task
	if taskID != "" {
		var ok bool
		t, ok = m.tasks[taskID]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if !m.isReadyLocked(t) {
			m.mu.Unlock()
			return nil, fmt.Errorf("task %s (status %s): %w", taskID, t.Status, ErrNotReady)
		}
	} else {
		var ready []*Task
		for _, id := range m.order {
			cand := m.tasks[id]
			if (planID == "" || cand.PlanID == planID) && m.isReadyLocked(cand) {
				ready = append(ready, cand)
			}
		}
		if len(ready) == 0 {
			m.mu.Unlock()
			return nil, ErrNoReadyTasks
		}
		sort.SliceStable(ready, func(i, j int) bool {
			if ready[i].Priority.rank() != ready[j].Priority.rank() {
				return ready[i].Priority.rank() < ready[j].Priority.rank()
			}
			return ready[i].seq < ready[j].seq
		})
		t = ready[0]
	}

	spawnCtx := opts.SpawnContext
	if spawnCtx == "" {
		spawnCtx = identity.SpawnContextOrchestrator
	}
	worktree := m.worktreePathLocked(t)
	m.mu.Unlock()

	var owner *identity.Owner
	if opts.ParentWorkerID != "" {
		ownerType := identity.OwnerTypeWorker
		if opts.ParentWorkerID == m.orchestratorID {
			ownerType = identity.OwnerTypeOrchestrator
		}
		owner = &identity.Owner{OwnerID: opts.ParentWorkerID, OwnerType: ownerType}
	}
	wctx, err := identity.NewWorkerContext(t.ID, t.PlanID, worktree, 0, spawnCtx, owner)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	t = m.tasks[t.ID]
	if t == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("task removed during deployment: %w", ErrNotFound)
	}
	t.Status = TaskRunning
	t.WorkerID = wctx.WorkerID
	t.Attempts++
	m.workers[wctx.WorkerID] = &workerRecord{
		ctx:            wctx,
		taskID:         t.ID,
		planID:         t.PlanID,
		parentWorkerID: opts.ParentWorkerID,
	}
	cp := *t
	m.mu.Unlock()

	m.bus.StartMonitoring(wctx.WorkerID, opts.ParentWorkerID)
	logger.InfoCF("plan", "Task deployed", map[string]any{
		"task_id":   t.ID,
		"worker_id": wctx.WorkerID,
		"attempt":   cp.Attempts,
	})
	return &Deployment{Task: &cp, Worker: wctx}, nil
}

// worktreePathLocked builds a per-deployment unique path so siblings
// never share a working copy.
func (m *Manager) worktreePathLocked(t *Task) string {
	return filepath.Join(m.workspaceRoot, ".crewkit", "worktrees",
		fmt.Sprintf("%s-a%d-%s", t.ID, t.Attempts+1, uuid.NewString()[:8]))
}

// CompleteTask marks a worker's task terminal. Only the worker's parent
// or the orchestrator may complete it.
func (m *Manager) CompleteTask(workerID, callerWorkerID string, success bool, detail string) (*Task, error) {
	m.mu.Lock()
	w, ok := m.workers[workerID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}
	if callerWorkerID != w.parentWorkerID && callerWorkerID != m.orchestratorID {
		m.mu.Unlock()
		return nil, fmt.Errorf("caller %s may not complete worker %s: %w", callerWorkerID, workerID, ErrUnauthorised)
	}
	t := m.tasks[w.taskID]
	if t == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("task for worker %s: %w", workerID, ErrNotFound)
	}
	if success {
		t.Status = TaskCompleted
	} else {
		t.Status = TaskFailed
		t.Error = detail
	}
	delete(m.workers, workerID)
	cp := *t
	m.mu.Unlock()

	m.bus.StopMonitoring(workerID)
	return &cp, nil
}

// CancelTask stops a task. remove=false resets it to pending so it can
// be redeployed; remove=true deletes it and detaches any running worker.
func (m *Manager) CancelTask(taskID string, remove bool) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	// Reset only makes sense for live or failed tasks; a finished task
	// keeps its outcome unless it is removed outright.
	if !remove && (t.Status == TaskCompleted || t.Status == TaskCancelled) {
		status := t.Status
		m.mu.Unlock()
		return fmt.Errorf("task %s is %s and cannot be reset to pending; remove it instead", taskID, status)
	}

	var cancel func()
	if t.WorkerID != "" {
		if w := m.workers[t.WorkerID]; w != nil {
			cancel = w.cancel
			delete(m.workers, t.WorkerID)
		}
		t.WorkerID = ""
	}

	if remove {
		delete(m.tasks, taskID)
		for i, id := range m.order {
			if id == taskID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	} else {
		t.Status = TaskPending
		t.Error = ""
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// RetryTask clears error state and redeploys with the same parent so
// update routing is preserved. The attempt counter lives on the task.
func (m *Manager) RetryTask(taskID string) (*Deployment, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	var parent string
	if w := m.workers[t.WorkerID]; w != nil {
		parent = w.parentWorkerID
		delete(m.workers, t.WorkerID)
	}
	if parent == "" {
		parent = m.orchestratorID
	}
	t.Status = TaskPending
	t.Error = ""
	t.WorkerID = ""
	m.mu.Unlock()

	return m.Deploy(t.PlanID, taskID, DeployOptions{ParentWorkerID: parent})
}

// AttachCancel associates a cancellation hook with a deployed worker.
func (m *Manager) AttachCancel(workerID string, cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.workers[workerID]; w != nil {
		w.cancel = cancel
	}
}

// SendMessageToWorker queues a message into the worker's input channel.
// Non-blocking; the queue is bounded and overflow drops the oldest.
func (m *Manager) SendMessageToWorker(workerID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}
	if len(w.messages) >= workerMessageBound {
		w.messages = w.messages[1:]
	}
	w.messages = append(w.messages, message)
	return nil
}

// DrainMessages returns and clears the worker's queued messages.
func (m *Manager) DrainMessages(workerID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return nil
	}
	msgs := w.messages
	w.messages = nil
	return msgs
}

// Worker returns the context and parent for a deployed worker.
func (m *Manager) Worker(workerID string) (identity.WorkerContext, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return identity.WorkerContext{}, "", false
	}
	return w.ctx, w.parentWorkerID, true
}

// Workers lists deployed worker ids.
func (m *Manager) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.workers))
	for id := range m.workers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RegisterStandaloneParentHandler forwards to the bus so standalone
// parents get pushed lines instead of polling.
func (m *Manager) RegisterStandaloneParentHandler(workerID string, fn monitor.PushHandler) {
	m.bus.RegisterStandaloneParentHandler(workerID, fn)
}
