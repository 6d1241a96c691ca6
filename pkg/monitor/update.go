package monitor

import "time"

// UpdateKind tags the variants of the child-to-parent update union.
type UpdateKind string

const (
	UpdateProgress  UpdateKind = "progress"
	UpdateIdle      UpdateKind = "idle"
	UpdateError     UpdateKind = "error"
	UpdateFailed    UpdateKind = "failed"
	UpdateCompleted UpdateKind = "completed"
)

// ErrorType classifies a child error for display and retry decisions.
type ErrorType string

const (
	ErrorRateLimit ErrorType = "rate_limit"
	ErrorNetwork   ErrorType = "network"
	ErrorAuth      ErrorType = "auth"
	ErrorFatal     ErrorType = "fatal"
	ErrorUnknown   ErrorType = "unknown"
)

type RetryInfo struct {
	Attempt       int
	MaxAttempts   int
	WillRetry     bool
	NextRetryInMS int64
}

// Update is one bus message from a subtask to its parent. Kind decides
// which of the optional fields are meaningful.
type Update struct {
	Kind           UpdateKind
	SubTaskID      string
	ParentWorkerID string
	Timestamp      time.Time

	Progress       int    // progress: 0..100
	ProgressReport string // progress
	IdleReason     string // idle
	Error          string // error / failed
	ErrorType      ErrorType
	Retry          *RetryInfo
	Result         string // completed / failed
	Status         string // completed: terminal status line
}

// Terminal reports whether the update must never be dropped by the
// queue's overflow policy.
func (u Update) Terminal() bool {
	switch u.Kind {
	case UpdateError, UpdateFailed, UpdateCompleted:
		return true
	default:
		return false
	}
}
