// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package identity holds the immutable per-worker identity. The context
// is captured once at worker start and reused for the worker's
// lifetime; regenerating ids per access breaks update routing.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SpawnContext is the kind of entity that rooted the current chain.
type SpawnContext string

const (
	SpawnContextOrchestrator SpawnContext = "orchestrator"
	SpawnContextAgent        SpawnContext = "agent"
	SpawnContextSubtask      SpawnContext = "subtask"
)

type OwnerType string

const (
	OwnerTypeOrchestrator OwnerType = "orchestrator"
	OwnerTypeWorker       OwnerType = "worker"
)

// Owner identifies who receives this worker's updates and permission
// escalations.
type Owner struct {
	OwnerID   string    `json:"owner_id"`
	OwnerType OwnerType `json:"owner_type"`
}

// WorkerContext is immutable for the worker's lifetime.
type WorkerContext struct {
	WorkerID     string       `json:"worker_id"`
	TaskID       string       `json:"task_id,omitempty"`
	PlanID       string       `json:"plan_id,omitempty"`
	WorktreePath string       `json:"worktree_path"`
	Depth        int          `json:"depth"`
	SpawnContext SpawnContext `json:"spawn_context"`
	Owner        *Owner       `json:"owner,omitempty"`
}

var (
	ErrNoWorkspace             = errors.New("no workspace")
	ErrInvalidWorkingDirectory = errors.New("invalid working directory")
)

// editorInstallMarkers flag directories that are an editor's install
// location rather than a source checkout. Deploying a worker there was
// a real bug in the ancestor of this design; it now fails hard.
var editorInstallMarkers = []string{
	".vscode-server", "vscode-insiders", "Visual Studio Code", "JetBrains", "sublime_text",
}

// ResolveWorktree picks the first usable candidate path. It never falls
// back to the process working directory; if every candidate is empty or
// rejected it returns ErrNoWorkspace with all candidates listed, so the
// failure is diagnosable from the message alone.
func ResolveWorktree(constructorWorktree, contextWorktree, mainWorkspace string) (string, error) {
	candidates := []struct {
		label string
		path  string
	}{
		{"constructor worktree", constructorWorktree},
		{"worker-context worktree", contextWorktree},
		{"main workspace", mainWorkspace},
	}

	var rejected string
	for _, c := range candidates {
		if c.path == "" {
			continue
		}
		if isEditorInstallDir(c.path) {
			rejected = fmt.Sprintf("%s=%q", c.label, c.path)
			continue
		}
		return filepath.Clean(c.path), nil
	}

	detail := fmt.Sprintf(
		"constructor worktree=%q, worker-context worktree=%q, main workspace=%q, rejected=%s",
		constructorWorktree, contextWorktree, mainWorkspace, orNone(rejected),
	)
	if rejected != "" {
		return "", fmt.Errorf("%w: working directory looks like an editor install dir; candidates considered: %s",
			ErrInvalidWorkingDirectory, detail)
	}
	return "", fmt.Errorf("%w: no workspace root could be determined; candidates considered: %s",
		ErrNoWorkspace, detail)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func isEditorInstallDir(path string) bool {
	for _, marker := range editorInstallMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// NewWorkerContext captures a worker identity at deployment time.
func NewWorkerContext(taskID, planID, worktreePath string, depth int, spawnContext SpawnContext, owner *Owner) (WorkerContext, error) {
	if worktreePath == "" {
		return WorkerContext{}, fmt.Errorf("%w: worker context requires a worktree path", ErrNoWorkspace)
	}
	if depth < 0 {
		return WorkerContext{}, fmt.Errorf("worker depth must be >= 0, got %d", depth)
	}
	return WorkerContext{
		WorkerID:     "worker-" + uuid.NewString(),
		TaskID:       taskID,
		PlanID:       planID,
		WorktreePath: filepath.Clean(worktreePath),
		Depth:        depth,
		SpawnContext: spawnContext,
		Owner:        owner,
	}, nil
}

// NewStandaloneContext builds the default context for a standalone
// session. The id is stable for the session; callers must hold on to
// the returned value rather than calling this again.
func NewStandaloneContext(worktreePath string) (WorkerContext, error) {
	resolved, err := ResolveWorktree(worktreePath, "", mainWorkspaceFromEnv())
	if err != nil {
		return WorkerContext{}, err
	}
	return WorkerContext{
		WorkerID:     "standalone-" + uuid.NewString(),
		WorktreePath: resolved,
		Depth:        0,
		SpawnContext: SpawnContextAgent,
	}, nil
}

func mainWorkspaceFromEnv() string {
	if ws := os.Getenv("CREWKIT_WORKSPACE"); ws != "" {
		return ws
	}
	return ""
}

// IsOrchestrator reports whether the chain is rooted at the orchestrator.
func (c WorkerContext) IsOrchestrator() bool {
	return c.SpawnContext == SpawnContextOrchestrator
}

// ChildSpawnContext is the spawn context a child of this worker should
// carry: chains keep their root kind, and a derived subtask context
// collapses to agent when the root is not the orchestrator.
func (c WorkerContext) ChildSpawnContext() SpawnContext {
	switch c.SpawnContext {
	case SpawnContextOrchestrator:
		return SpawnContextOrchestrator
	case SpawnContextSubtask:
		return SpawnContextAgent
	default:
		return c.SpawnContext
	}
}
