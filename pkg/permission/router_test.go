package permission

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewkit/crewkit/pkg/agents"
	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/store"
)

// scriptedMailbox answers every Ask with a fixed response or error.
type scriptedMailbox struct {
	resp  Message
	err   error
	asked []Message
}

func (m *scriptedMailbox) Ask(ownerID string, msg Message, timeout time.Duration) (Message, error) {
	m.asked = append(m.asked, msg)
	return m.resp, m.err
}

func ownedContext() identity.WorkerContext {
	return identity.WorkerContext{
		WorkerID:     "worker-child",
		WorktreePath: "/tmp/wt",
		Depth:        1,
		SpawnContext: identity.SpawnContextOrchestrator,
		Owner:        &identity.Owner{OwnerID: "worker-parent", OwnerType: identity.OwnerTypeWorker},
	}
}

func denyAll(ctx context.Context, req Request) Decision {
	return Decision{Outcome: OutcomeDeny, Reason: "user said no"}
}

func TestRoute_SafeReadAutoApproved(t *testing.T) {
	r := NewRouter(agents.DefaultApprovalPolicy(), nil, nil)

	d := r.Route(context.Background(), Request{
		OriginWorkerID: "worker-child",
		Kind:           KindRead,
		Action:         "open",
		Target:         "src/foo.go",
	}, ownedContext(), denyAll)

	assert.Equal(t, OutcomeApprove, d.Outcome)
	assert.Equal(t, "auto-policy", d.DecidedBy)
	assert.Equal(t, RememberSession, d.Remember)
}

func TestRoute_DefaultPoliciesApproveNestedSourceRead(t *testing.T) {
	routers := map[string]*Router{
		"builtin": NewRouter(agents.DefaultApprovalPolicy(), nil, nil),
		"config":  NewRouterFromConfig(config.DefaultConfig().Permission, nil, nil),
	}
	for name, r := range routers {
		d := r.Route(context.Background(), Request{
			OriginWorkerID: "worker-child",
			Kind:           KindRead,
			Action:         "open",
			Target:         "src/foo.ts",
		}, ownedContext(), denyAll)
		assert.Equal(t, OutcomeApprove, d.Outcome, name)
		assert.Equal(t, "auto-policy", d.DecidedBy, name)
	}
}

func TestRoute_MemoisedOnRepeat(t *testing.T) {
	r := NewRouter(agents.DefaultApprovalPolicy(), nil, nil)
	req := Request{Kind: KindRead, Action: "open", Target: "src/foo.go"}

	first := r.Route(context.Background(), req, ownedContext(), denyAll)
	assert.Equal(t, "auto-policy", first.DecidedBy)

	second := r.Route(context.Background(), req, ownedContext(), denyAll)
	assert.Equal(t, OutcomeApprove, second.Outcome)
	assert.Equal(t, "memo", second.DecidedBy)
}

func TestRoute_WriteRequiresWorktree(t *testing.T) {
	r := NewRouter(agents.DefaultApprovalPolicy(), nil, nil)

	inTree := r.Route(context.Background(), Request{
		Kind: KindWrite, Action: "save", Target: "pkg/a/a.go",
		Context: map[string]any{"isInWorktree": true},
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeApprove, inTree.Outcome)

	outside := r.Route(context.Background(), Request{
		Kind: KindWrite, Action: "save", Target: "pkg/b/b.go",
		Context: map[string]any{"isInWorktree": false},
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeDeny, outside.Outcome)
	assert.Equal(t, "user said no", outside.Reason)
}

func TestRoute_ShellPrefixCaseInsensitive(t *testing.T) {
	r := NewRouter(agents.DefaultApprovalPolicy(), nil, nil)

	d := r.Route(context.Background(), Request{
		Kind: KindShell, Action: "exec", Target: "GO TEST ./...",
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeApprove, d.Outcome)

	// "gofmtx" is not "gofmt" on a word boundary.
	d = r.Route(context.Background(), Request{
		Kind: KindShell, Action: "exec", Target: "gofmtx -w .",
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeDeny, d.Outcome)
}

func TestRoute_SensitiveAlwaysEscalates(t *testing.T) {
	mb := &scriptedMailbox{resp: Message{
		Type:     MessagePermissionResponse,
		Decision: "deny",
		Reason:   "parent refused",
	}}
	r := NewRouter(agents.DefaultApprovalPolicy(), mb, nil)

	d := r.Route(context.Background(), Request{
		Kind: KindRead, Action: "open", Target: "src/foo.go", IsSensitive: true,
	}, ownedContext(), denyAll)

	require.Len(t, mb.asked, 1)
	assert.Equal(t, MessagePermissionRequest, mb.asked[0].Type)
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, "parent", d.DecidedBy)
	assert.Equal(t, "parent refused", d.Reason)
}

func TestRoute_OwnerTimeoutFallsToUser(t *testing.T) {
	mb := &scriptedMailbox{err: errors.New("timeout waiting for permission_response")}
	r := NewRouter(agents.DefaultApprovalPolicy(), mb, nil)

	var askedUser bool
	d := r.Route(context.Background(), Request{
		Kind: KindShell, Action: "exec", Target: "rm -rf /tmp/x", Timeout: 10 * time.Millisecond,
	}, ownedContext(), func(ctx context.Context, req Request) Decision {
		askedUser = true
		return Decision{Outcome: OutcomeApprove}
	})

	assert.True(t, askedUser)
	assert.Equal(t, OutcomeApprove, d.Outcome)
	assert.Equal(t, "user", d.DecidedBy)
}

func TestRoute_OwnerEscalateFallsToUser(t *testing.T) {
	mb := &scriptedMailbox{resp: Message{Type: MessagePermissionResponse, Decision: "escalate"}}
	r := NewRouter(agents.DefaultApprovalPolicy(), mb, nil)

	d := r.Route(context.Background(), Request{
		Kind: KindShell, Action: "exec", Target: "curl http://example.com",
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, "user said no", d.Reason)
}

func TestRoute_NoOwnerGoesToUser(t *testing.T) {
	r := NewRouter(agents.DefaultApprovalPolicy(), nil, nil)
	standalone := identity.WorkerContext{WorkerID: "standalone-x", WorktreePath: "/tmp", SpawnContext: identity.SpawnContextAgent}

	d := r.Route(context.Background(), Request{
		Kind: KindRead, Action: "open", Target: "src/foo.go",
	}, standalone, func(ctx context.Context, req Request) Decision {
		return Decision{Outcome: OutcomeApprove}
	})
	assert.Equal(t, OutcomeApprove, d.Outcome)
	assert.Equal(t, "user", d.DecidedBy)
}

func TestRoute_CancelledDenies(t *testing.T) {
	r := NewRouter(agents.DefaultApprovalPolicy(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := r.Route(ctx, Request{
		Kind: KindShell, Action: "exec", Target: "anything at all",
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, "cancelled", d.Reason)
}

func TestRoute_AlwaysRulePersists(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	defer s.Close()

	mb := &scriptedMailbox{resp: Message{
		Type: MessagePermissionResponse, Decision: "approve", Remember: RememberAlways,
	}}
	r := NewRouter(agents.DefaultApprovalPolicy(), mb, s)

	req := Request{Kind: KindShell, Action: "exec", Target: "terraform apply"}
	d := r.Route(context.Background(), req, ownedContext(), denyAll)
	require.Equal(t, OutcomeApprove, d.Outcome)

	// A fresh router (new session) sees the persisted rule.
	r2 := NewRouter(agents.DefaultApprovalPolicy(), nil, s)
	d2 := r2.Route(context.Background(), req, ownedContext(), denyAll)
	assert.Equal(t, OutcomeApprove, d2.Outcome)
	assert.Equal(t, "rule", d2.DecidedBy)
}

func TestNewRouterFromConfig_DenyListForcesEscalation(t *testing.T) {
	mb := &scriptedMailbox{resp: Message{
		Type: MessagePermissionResponse, Decision: "deny", Reason: "secrets stay put",
	}}
	r := NewRouterFromConfig(config.PermissionConfig{
		FileDenyPatterns: []string{"**/.env", "**/*.pem"},
		TerminalDenyList: []string{"rm -rf"},
	}, mb, nil)

	// Denied file never auto-approves even though *.env would not match
	// the safe lists anyway; a safe-listed file still does.
	d := r.Route(context.Background(), Request{
		Kind: KindRead, Action: "open", Target: "config/.env",
	}, ownedContext(), denyAll)
	require.Len(t, mb.asked, 1)
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, "parent", d.DecidedBy)

	d = r.Route(context.Background(), Request{
		Kind: KindRead, Action: "open", Target: "main.go",
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeApprove, d.Outcome)
	assert.Equal(t, "auto-policy", d.DecidedBy)
}

func TestNewRouterFromConfig_AllowOutsideWorkspace(t *testing.T) {
	r := NewRouterFromConfig(config.PermissionConfig{
		AllowOutsideWorkspace: true,
	}, nil, nil)

	d := r.Route(context.Background(), Request{
		Kind: KindWrite, Action: "save", Target: "notes.md",
		Context: map[string]any{"isInWorktree": false},
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeApprove, d.Outcome)
	assert.Equal(t, "auto-policy", d.DecidedBy)
}

func TestNewRouterFromConfig_OverridesSafeLists(t *testing.T) {
	r := NewRouterFromConfig(config.PermissionConfig{
		SafeCommands: []string{"make lint"},
	}, nil, nil)

	d := r.Route(context.Background(), Request{
		Kind: KindShell, Action: "exec", Target: "make lint ./...",
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeApprove, d.Outcome)

	// The default safe list is replaced, not merged.
	d = r.Route(context.Background(), Request{
		Kind: KindShell, Action: "exec", Target: "go test ./...",
	}, ownedContext(), denyAll)
	assert.Equal(t, OutcomeDeny, d.Outcome)
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, matchGlob("**/*.go", "pkg/deep/nested/file.go"))
	assert.True(t, matchGlob("**/*.go", "file.go"))
	assert.False(t, matchGlob("**/*.go", "file.rs"))
	assert.True(t, matchGlob("*.md", "README.md"))
	assert.False(t, matchGlob("*.md", "docs/README.md"))
	assert.False(t, matchGlob("**/*.go", ""))
}

func TestMatchCommandPrefix(t *testing.T) {
	safe := []string{"go test", "git status"}
	assert.True(t, matchCommandPrefix(safe, "go test ./..."))
	assert.True(t, matchCommandPrefix(safe, "GIT STATUS"))
	assert.False(t, matchCommandPrefix(safe, "go testify"))
	assert.False(t, matchCommandPrefix(safe, ""))
}
