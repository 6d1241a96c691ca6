package safety

import (
	"time"

	"github.com/crewkit/crewkit/pkg/logger"
)

// StopScope selects how far an emergency stop reaches.
type StopScope string

const (
	StopScopeSubtask StopScope = "subtask"
	StopScopeWorker  StopScope = "worker"
	StopScopePlan    StopScope = "plan"
	StopScopeGlobal  StopScope = "global"
)

type StopOptions struct {
	Scope  StopScope
	Target string // subtask/worker/plan id; unused for global
	Reason string
}

// StopEvent is handed to listeners before any ledger cleanup, so they
// can still resolve the affected subtasks and cancel live work.
type StopEvent struct {
	Scope      StopScope
	Target     string
	Reason     string
	SubTaskIDs []string
	Timestamp  time.Time
}

type StopResult struct {
	SubTasksKilled   int
	KilledSubTaskIDs []string
	Timestamp        time.Time
	Reason           string
}

// OnEmergencyStop registers a listener. Listeners run synchronously, in
// registration order, inside EmergencyStop.
func (l *Limits) OnEmergencyStop(fn func(StopEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// EmergencyStop resolves the subtasks in scope, notifies listeners,
// then clears the matching ancestry, cost, and rate-limit state.
// Running it again over the same scope kills nothing.
func (l *Limits) EmergencyStop(opts StopOptions) StopResult {
	l.mu.Lock()

	var killed []string
	workers := make(map[string]bool)
	for id, entry := range l.ancestry {
		if l.inScopeLocked(entry, opts) {
			killed = append(killed, id)
			workers[entry.WorkerID] = true
		}
	}

	listeners := make([]func(StopEvent), len(l.listeners))
	copy(listeners, l.listeners)
	now := l.nowFn()
	l.mu.Unlock()

	event := StopEvent{
		Scope:      opts.Scope,
		Target:     opts.Target,
		Reason:     opts.Reason,
		SubTaskIDs: killed,
		Timestamp:  now,
	}
	for _, fn := range listeners {
		fn(event)
	}

	// Cleanup after listeners so they observed the full ledger.
	l.mu.Lock()
	for _, id := range killed {
		delete(l.ancestry, id)
		delete(l.costs, id)
	}
	if opts.Scope == StopScopeGlobal {
		l.spawnTimes = make(map[string][]time.Time)
	} else {
		for w := range workers {
			delete(l.spawnTimes, w)
		}
	}
	l.mu.Unlock()

	logger.WarnCF("safety", "Emergency stop executed", map[string]any{
		"scope":  string(opts.Scope),
		"target": opts.Target,
		"killed": len(killed),
		"reason": opts.Reason,
	})

	return StopResult{
		SubTasksKilled:   len(killed),
		KilledSubTaskIDs: killed,
		Timestamp:        now,
		Reason:           opts.Reason,
	}
}

func (l *Limits) inScopeLocked(entry AncestryEntry, opts StopOptions) bool {
	switch opts.Scope {
	case StopScopeSubtask:
		if entry.SubTaskID == opts.Target {
			return true
		}
		// Children of the stopped subtask go down with it.
		for _, anc := range l.chainLocked(entry.SubTaskID) {
			if anc.SubTaskID == opts.Target {
				return true
			}
		}
		return false
	case StopScopeWorker:
		return entry.WorkerID == opts.Target
	case StopScopePlan:
		return entry.PlanID == opts.Target
	case StopScopeGlobal:
		return true
	default:
		return false
	}
}
