package plan

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorised      = errors.New("unauthorised")
	ErrNotReady          = errors.New("task is not ready")
	ErrNoReadyTasks      = errors.New("no ready tasks")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDependencyCycle   = errors.New("dependency cycle")
)
