// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package plan holds the plan/task graph: dependency-driven readiness,
// priority deployment, retry and cancellation.
package plan

import "time"

type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanDone      PlanStatus = "done"
	PlanCancelled PlanStatus = "cancelled"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// rank orders priorities for deployment; lower wins.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

type Plan struct {
	ID          string
	Name        string
	Description string
	BaseBranch  string
	Status      PlanStatus
	CreatedAt   time.Time
}

type Task struct {
	ID            string
	PlanID        string
	Name          string
	Description   string
	Agent         string
	Dependencies  []string
	TargetFiles   []string
	Priority      Priority
	ParallelGroup string
	Status        TaskStatus
	WorkerID      string
	Attempts      int
	Error         string
	CreatedAt     time.Time

	seq int // insertion order, breaks priority ties
}

// TaskSpec is the caller-facing shape for AddTask.
type TaskSpec struct {
	Name          string
	Description   string
	Agent         string
	Dependencies  []string
	TargetFiles   []string
	Priority      Priority
	ParallelGroup string
}
