package runner

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"

	"github.com/crewkit/crewkit/pkg/monitor"
)

// Classify maps a backend error to the update bus's error taxonomy.
// Returns "" for nil and for plain context cancellation, which callers
// report as cancelled rather than errored.
func Classify(err error) monitor.ErrorType {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return monitor.ErrorNetwork
	}

	if code, ok := statusCode(err); ok {
		return classifyStatus(code)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "overloaded"), strings.Contains(msg, "too many requests"):
		return monitor.ErrorRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "forbidden"):
		return monitor.ErrorAuth
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "network"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"):
		return monitor.ErrorNetwork
	case strings.Contains(msg, "invalid model"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "billing"), strings.Contains(msg, "quota exceeded"):
		return monitor.ErrorFatal
	default:
		return monitor.ErrorUnknown
	}
}

func classifyStatus(code int) monitor.ErrorType {
	switch {
	case code == 429:
		return monitor.ErrorRateLimit
	case code == 401 || code == 403:
		return monitor.ErrorAuth
	case code == 408 || code >= 500:
		return monitor.ErrorNetwork
	default:
		return monitor.ErrorFatal
	}
}

func statusCode(err error) (int, bool) {
	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		return anthErr.StatusCode, true
	}
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}
	return 0, false
}

// Retriable reports whether an error class is worth another attempt.
func Retriable(t monitor.ErrorType) bool {
	return t == monitor.ErrorRateLimit || t == monitor.ErrorNetwork
}

// RetryBackoffMS suggests how long a retrying caller should wait before
// the next attempt. Zero means the class is not retriable.
func RetryBackoffMS(t monitor.ErrorType) int64 {
	switch t {
	case monitor.ErrorRateLimit:
		return 30_000
	case monitor.ErrorNetwork:
		return 5_000
	default:
		return 0
	}
}
