// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package subtask owns the lifecycle of delegated child tasks: gated
// creation, execution against an agent runner, at-most-once terminal
// transitions, and emission into the update bus.
package subtask

import (
	"time"

	"github.com/crewkit/crewkit/pkg/identity"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SubTask is one delegated unit of work. Owned by the Manager until it
// reaches a terminal status.
type SubTask struct {
	ID             string
	ParentWorkerID string
	ParentTaskID   string
	PlanID         string
	WorktreePath   string
	BaseBranch     string
	AgentType      string
	Prompt         string
	ExpectedOutput string
	TargetFiles    []string
	Model          string

	CurrentDepth int // parent's depth
	Depth        int // CurrentDepth + 1
	SpawnContext identity.SpawnContext

	Status     Status
	Result     string
	Error      string
	CreatedAt  time.Time
	FinishedAt time.Time // zero until a terminal transition
}

// CreateRequest carries everything the gate pipeline needs.
type CreateRequest struct {
	ParentWorkerID  string
	ParentSubTaskID string // empty for a first-level spawn
	ParentTaskID    string
	PlanID          string
	WorktreePath    string
	BaseBranch      string
	AgentType       string
	Prompt          string
	ExpectedOutput  string
	TargetFiles     []string
	Model           string
	ParentDepth     int
	SpawnContext    identity.SpawnContext
}

// Event is emitted on every status change.
type Event struct {
	SubTaskID string
	Status    Status
	Result    string
	Error     string
}
