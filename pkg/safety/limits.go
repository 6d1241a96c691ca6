// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package safety is the limits engine gating every subtask spawn:
// depth policy by root spawn context, ancestry cycle detection,
// rate/total/parallel caps, the cost ledger, and emergency stop.
package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/identity"
)

// rateWindow is the sliding window over which spawn timestamps count
// against SubTaskSpawnRateLimit.
const rateWindow = 60 * time.Second

type Limits struct {
	cfg     config.SafetyConfig
	pricing map[string]config.ModelPrice
	nowFn   func() time.Time

	mu         sync.Mutex
	ancestry   map[string]AncestryEntry // subTaskID -> entry
	spawnTimes map[string][]time.Time   // workerID -> timestamps inside window
	costs      map[string][]CostEntry   // subTaskID -> ledger rows
	listeners  []func(StopEvent)
}

func NewLimits(cfg config.SafetyConfig, pricing map[string]config.ModelPrice) *Limits {
	return &Limits{
		cfg:        cfg,
		pricing:    pricing,
		nowFn:      time.Now,
		ancestry:   make(map[string]AncestryEntry),
		spawnTimes: make(map[string][]time.Time),
		costs:      make(map[string][]CostEntry),
	}
}

// SetNowFunc overrides the clock. Test hook.
func (l *Limits) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = fn
}

// EffectiveMaxDepth resolves the depth cap for a chain rooted at the
// given spawn context. A derived subtask context counts as agent; the
// caller translates to the root's context before asking when the root
// is the orchestrator.
func (l *Limits) EffectiveMaxDepth(ctx identity.SpawnContext) int {
	if ctx == identity.SpawnContextOrchestrator {
		return l.cfg.MaxDepthFromOrchestrator
	}
	return l.cfg.MaxDepthFromAgent
}

// EnforceDepthLimit fails when a parent at parentDepth may not spawn a
// child under the chain's root context.
func (l *Limits) EnforceDepthLimit(parentDepth int, ctx identity.SpawnContext) error {
	max := l.EffectiveMaxDepth(ctx)
	if parentDepth < max {
		return nil
	}

	hint := fmt.Sprintf("Orchestrator chains can spawn %d levels of subtasks", l.cfg.MaxDepthFromOrchestrator)
	if ctx != identity.SpawnContextOrchestrator {
		hint = fmt.Sprintf("Standalone agents can only spawn %d level of subtasks", l.cfg.MaxDepthFromAgent)
	}
	return fmt.Errorf("%w: Cannot spawn deeper: parent depth %d has reached the maximum of %d for %s context. %s",
		ErrDepthLimitExceeded, parentDepth, max, ctx, hint)
}

// CheckRateLimit rejects when the worker already spawned
// SubTaskSpawnRateLimit subtasks inside the sliding 60s window.
func (l *Limits) CheckRateLimit(workerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.trimWindowLocked(workerID)
	if len(window) >= l.cfg.SubTaskSpawnRateLimit {
		return fmt.Errorf("%w: worker %s spawned %d subtasks in the last 60s (limit %d); wait before delegating again",
			ErrRateLimitExceeded, workerID, len(window), l.cfg.SubTaskSpawnRateLimit)
	}
	return nil
}

// RecordSpawn appends a spawn timestamp for the worker. Call only after
// every gate has passed.
func (l *Limits) RecordSpawn(workerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawnTimes[workerID] = append(l.trimWindowLocked(workerID), l.nowFn())
}

func (l *Limits) trimWindowLocked(workerID string) []time.Time {
	cutoff := l.nowFn().Add(-rateWindow)
	window := l.spawnTimes[workerID][:0]
	for _, t := range l.spawnTimes[workerID] {
		if t.After(cutoff) {
			window = append(window, t)
		}
	}
	l.spawnTimes[workerID] = window
	return window
}

// CheckTotalLimit rejects when a worker already owns count live
// (running or pending) subtasks.
func (l *Limits) CheckTotalLimit(count int) error {
	if count >= l.cfg.MaxSubTasksPerWorker {
		return fmt.Errorf("%w: worker already has %d subtasks (limit %d); complete or cancel existing work first",
			ErrTotalLimitExceeded, count, l.cfg.MaxSubTasksPerWorker)
	}
	return nil
}

// CheckParallelLimit rejects when running subtasks have hit the
// concurrency cap.
func (l *Limits) CheckParallelLimit(running int) error {
	if running >= l.cfg.MaxParallelSubTasks {
		return fmt.Errorf("%w: %d subtasks already running (limit %d); await some before spawning more",
			ErrParallelLimitExceeded, running, l.cfg.MaxParallelSubTasks)
	}
	return nil
}
