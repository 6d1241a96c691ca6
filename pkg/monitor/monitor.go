// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package monitor is the task-monitor/update bus: per-parent FIFO
// queues of child updates plus a push channel for standalone parents
// that do not poll.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/crewkit/crewkit/pkg/logger"
)

// PushHandler receives a formatted human-readable line for a parent
// that registered for push delivery.
type PushHandler func(line string)

type Monitor struct {
	maxQueued int

	mu       sync.Mutex
	queues   map[string][]Update     // parentWorkerID -> FIFO
	routes   map[string]string      // subTaskID -> parentWorkerID
	handlers map[string]PushHandler // parentWorkerID -> push fn
	nowFn    func() time.Time
}

func New(maxQueued int) *Monitor {
	if maxQueued <= 0 {
		maxQueued = 1024
	}
	return &Monitor{
		maxQueued: maxQueued,
		queues:    make(map[string][]Update),
		routes:    make(map[string]string),
		handlers:  make(map[string]PushHandler),
		nowFn:     time.Now,
	}
}

// StartMonitoring records the subtask-to-parent routing.
func (m *Monitor) StartMonitoring(subTaskID, parentWorkerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[subTaskID] = parentWorkerID
}

// StopMonitoring drops the routing entry. Queued updates stay drainable.
func (m *Monitor) StopMonitoring(subTaskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routes, subTaskID)
}

// ParentOf resolves the recorded parent for a subtask.
func (m *Monitor) ParentOf(subTaskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.routes[subTaskID]
	return parent, ok
}

// QueueUpdate appends to the parent's FIFO and, when a push handler is
// registered for that parent, invokes it synchronously with a
// formatted line. Non-blocking; bounded by the overflow policy.
func (m *Monitor) QueueUpdate(update Update) {
	if update.Timestamp.IsZero() {
		update.Timestamp = m.nowFn()
	}

	m.mu.Lock()
	queue := m.queues[update.ParentWorkerID]
	if len(queue) >= m.maxQueued {
		queue = evictOldestProgress(queue, update)
	}
	if len(queue) < m.maxQueued || update.Terminal() {
		queue = append(queue, update)
	}
	m.queues[update.ParentWorkerID] = queue
	handler := m.handlers[update.ParentWorkerID]
	m.mu.Unlock()

	if handler != nil {
		handler(FormatUpdate(update))
	}
}

// evictOldestProgress makes room by dropping the oldest non-terminal
// progress update. Terminal updates are never evicted; when no progress
// update exists and the incoming one is itself droppable, the queue is
// returned unchanged (the new update is dropped instead).
func evictOldestProgress(queue []Update, incoming Update) []Update {
	for i, u := range queue {
		if u.Kind == UpdateProgress {
			logger.WarnCF("monitor", "Update queue full, dropping oldest progress update", map[string]any{
				"parent":  incoming.ParentWorkerID,
				"dropped": u.SubTaskID,
			})
			return append(queue[:i:i], queue[i+1:]...)
		}
	}
	if !incoming.Terminal() {
		logger.WarnCF("monitor", "Update queue full, dropping incoming update", map[string]any{
			"parent": incoming.ParentWorkerID,
			"kind":   string(incoming.Kind),
		})
	}
	return queue
}

// ConsumeUpdates drains and returns the parent's queue atomically.
func (m *Monitor) ConsumeUpdates(parentWorkerID string) []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[parentWorkerID]
	delete(m.queues, parentWorkerID)
	return queue
}

// Pending returns the queued update count for a parent.
func (m *Monitor) Pending(parentWorkerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[parentWorkerID])
}

// RegisterStandaloneParentHandler installs a push handler for parents
// that do not poll. Last writer wins; a nil handler removes it.
func (m *Monitor) RegisterStandaloneParentHandler(parentWorkerID string, fn PushHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.handlers, parentWorkerID)
		return
	}
	m.handlers[parentWorkerID] = fn
}

// FormatUpdate renders the human-readable push line for an update.
func FormatUpdate(u Update) string {
	switch u.Kind {
	case UpdateProgress:
		return fmt.Sprintf("[progress] %s", u.ProgressReport)
	case UpdateIdle:
		return fmt.Sprintf("[idle] %s", u.IdleReason)
	case UpdateError, UpdateFailed:
		emoji, label := errorBadge(u.ErrorType)
		if u.Retry != nil {
			return fmt.Sprintf("%s %s (attempt %d/%d): Waiting %ds - %s",
				emoji, label, u.Retry.Attempt, u.Retry.MaxAttempts,
				u.Retry.NextRetryInMS/1000, u.Error)
		}
		return fmt.Sprintf("%s %s: %s", emoji, label, u.Error)
	case UpdateCompleted:
		return fmt.Sprintf("%s completed: %s", u.SubTaskID, u.Status)
	default:
		return fmt.Sprintf("[%s] %s", u.Kind, u.SubTaskID)
	}
}

func errorBadge(t ErrorType) (string, string) {
	switch t {
	case ErrorRateLimit:
		return "⏳", "Rate limited"
	case ErrorNetwork:
		return "🌐", "Network error"
	case ErrorAuth:
		return "🔒", "Auth error"
	case ErrorFatal:
		return "❌", "Fatal error"
	default:
		return "⚠️", "Error"
	}
}
