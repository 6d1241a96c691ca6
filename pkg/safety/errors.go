package safety

import "errors"

// Sentinel error kinds for limit violations. Callers match with
// errors.Is; the wrapped messages carry human-readable hints.
var (
	ErrDepthLimitExceeded    = errors.New("depth limit exceeded")
	ErrCycleDetected         = errors.New("cycle detected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrTotalLimitExceeded    = errors.New("total subtask limit exceeded")
	ErrParallelLimitExceeded = errors.New("parallel subtask limit exceeded")
)
