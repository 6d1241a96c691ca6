// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package runner

// Git resolves repository state for a worktree. Implementations are
// provided by the host; callers treat every method as best-effort and
// must not block on failure.
type Git interface {
	CurrentBranch(worktreePath string) (string, error)
}

// Notifier surfaces operator-facing notifications outside the update
// bus (desktop toasts, status bars). Fire-and-forget.
type Notifier interface {
	Notify(title, message string)
}

// Telemetry receives fire-and-forget product events. Implementations
// must never fail the caller.
type Telemetry interface {
	Emit(eventName string, properties map[string]any)
}
