package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crewkit/crewkit/pkg/monitor"
)

func TestClassify_NilAndCancelled(t *testing.T) {
	assert.Equal(t, monitor.ErrorType(""), Classify(nil))
	assert.Equal(t, monitor.ErrorType(""), Classify(context.Canceled))
}

func TestClassify_DeadlineIsNetwork(t *testing.T) {
	assert.Equal(t, monitor.ErrorNetwork, Classify(context.DeadlineExceeded))
}

func TestClassify_TextPatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want monitor.ErrorType
	}{
		{"rate limit exceeded, retry after 30s", monitor.ErrorRateLimit},
		{"Overloaded", monitor.ErrorRateLimit},
		{"too many requests", monitor.ErrorRateLimit},
		{"invalid api key provided", monitor.ErrorAuth},
		{"authentication failed", monitor.ErrorAuth},
		{"connection refused", monitor.ErrorNetwork},
		{"request timeout talking to host", monitor.ErrorNetwork},
		{"no such host", monitor.ErrorNetwork},
		{"invalid model requested", monitor.ErrorFatal},
		{"billing hard limit reached", monitor.ErrorFatal},
		{"something unexpected", monitor.ErrorUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(errors.New(tt.msg)), tt.msg)
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, monitor.ErrorRateLimit, classifyStatus(429))
	assert.Equal(t, monitor.ErrorAuth, classifyStatus(401))
	assert.Equal(t, monitor.ErrorAuth, classifyStatus(403))
	assert.Equal(t, monitor.ErrorNetwork, classifyStatus(408))
	assert.Equal(t, monitor.ErrorNetwork, classifyStatus(500))
	assert.Equal(t, monitor.ErrorNetwork, classifyStatus(529))
	assert.Equal(t, monitor.ErrorFatal, classifyStatus(400))
	assert.Equal(t, monitor.ErrorFatal, classifyStatus(402))
	assert.Equal(t, monitor.ErrorFatal, classifyStatus(404))
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(monitor.ErrorRateLimit))
	assert.True(t, Retriable(monitor.ErrorNetwork))
	assert.False(t, Retriable(monitor.ErrorAuth))
	assert.False(t, Retriable(monitor.ErrorFatal))
	assert.False(t, Retriable(monitor.ErrorUnknown))
}

func TestMockRunner_ScriptAndCancel(t *testing.T) {
	m := NewMockRunner(
		&Result{Status: StatusFailed, Error: "first"},
		&Result{Status: StatusCompleted, Output: "second"},
	)

	r1, _ := m.Run(context.Background(), Request{Prompt: "a"})
	assert.Equal(t, StatusFailed, r1.Status)

	r2, _ := m.Run(context.Background(), Request{Prompt: "b"})
	assert.Equal(t, "second", r2.Output)
	assert.Equal(t, 2, m.Calls())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r3, err := m.Run(ctx, Request{Prompt: "c"})
	assert.NoError(t, err)
	assert.Equal(t, StatusCancelled, r3.Status)
}
