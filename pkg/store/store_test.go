package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "approvals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRule_SaveLookupDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRule(ctx, ApprovalRule{
		ID: "r1", Kind: "shell", Action: "exec", Target: "go test", Decision: "approve",
	}))

	got, err := s.LookupRule(ctx, "shell", "exec", "go test")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "approve", got.Decision)

	// Upsert flips the decision.
	require.NoError(t, s.SaveRule(ctx, ApprovalRule{
		ID: "r2", Kind: "shell", Action: "exec", Target: "go test", Decision: "deny",
	}))
	got, err = s.LookupRule(ctx, "shell", "exec", "go test")
	require.NoError(t, err)
	assert.Equal(t, "deny", got.Decision)

	require.NoError(t, s.DeleteRule(ctx, "shell", "exec", "go test"))
	got, err = s.LookupRule(ctx, "shell", "exec", "go test")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLookupRule_MissingIsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LookupRule(context.Background(), "read", "open", "x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAudit_RecordAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.RecordAudit(ctx, ApprovalRecord{
			RequestID: id, WorkerID: "w1", Kind: "write", Action: "save",
			Target: "main.go", Decision: "approve", DecidedBy: "auto-policy",
		}))
	}

	recent, err := s.RecentAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, "p3", recent[0].RequestID)
	assert.Equal(t, "p2", recent[1].RequestID)
}
