// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package runner executes a single agent turn against an LLM backend.
// The orchestration layers above only see the Runner interface; the
// concrete backends live here.
package runner

import "context"

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Request is one agent execution: the agent's system identity, the
// task prompt, and the worktree the agent operates in.
type Request struct {
	AgentType    string
	SystemPrompt string
	Prompt       string
	WorktreePath string
	Model        string
}

// Usage carries the token accounting the cost ledger consumes.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Result is the terminal outcome of a run. Error is set only for
// StatusFailed; Usage and Model are populated whenever the backend
// reported them, including on failure.
type Result struct {
	Status Status
	Output string
	Error  string
	Usage  Usage
	Model  string
}

// Runner executes agent turns. Implementations must honour ctx
// cancellation and return StatusCancelled rather than an error when the
// context is cancelled mid-run.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
