package runner

import (
	"context"
	"sync"
)

// MockRunner is a scriptable Runner for tests. Each call pops the next
// scripted result; when the script runs out it repeats the last entry.
type MockRunner struct {
	mu       sync.Mutex
	script   []*Result
	err      error
	delay    chan struct{} // when set, Run blocks until closed or ctx done
	Requests []Request
}

func NewMockRunner(results ...*Result) *MockRunner {
	if len(results) == 0 {
		results = []*Result{{Status: StatusCompleted, Output: "done"}}
	}
	return &MockRunner{script: results}
}

// FailWith makes every Run return the given error alongside a failed result.
func (m *MockRunner) FailWith(err error) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Block makes Run wait until Release is called (or the context ends).
func (m *MockRunner) Block() *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = make(chan struct{})
	return m
}

func (m *MockRunner) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delay != nil {
		close(m.delay)
		m.delay = nil
	}
}

func (m *MockRunner) Run(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	delay := m.delay
	err := m.err
	var res *Result
	if len(m.script) > 1 {
		res = m.script[0]
		m.script = m.script[1:]
	} else {
		res = m.script[0]
	}
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return &Result{Status: StatusCancelled}, nil
		}
	}
	if ctx.Err() != nil {
		return &Result{Status: StatusCancelled}, nil
	}
	if err != nil {
		return &Result{Status: StatusFailed, Error: err.Error()}, err
	}
	out := *res
	return &out, nil
}

// Calls returns how many times Run was invoked.
func (m *MockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
