package agents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_BuiltinsAlwaysPresent(t *testing.T) {
	r := NewRegistry("")
	all := r.List(FilterAll)
	require.NotEmpty(t, all)

	ids := make(map[string]bool)
	for _, a := range all {
		ids[a.ID] = true
		assert.Equal(t, SourceBuiltin, a.Source)
	}
	assert.True(t, ids["@coder"])
	assert.True(t, ids["@architect"])
	assert.True(t, ids["@reviewer"])
}

func TestList_RepoAgentsFromManifests(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".crewkit", "agents")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "security.json"),
		[]byte(`{"id":"@security-auditor","name":"Security Auditor","description":"Audits dependencies"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"),
		[]byte(`{not json`), 0o644))

	r := NewRegistry(ws)

	custom := r.List(FilterCustom)
	require.Len(t, custom, 1)
	assert.Equal(t, "@security-auditor", custom[0].ID)
	assert.Equal(t, SourceRepo, custom[0].Source)

	all := r.List(FilterAll)
	assert.Len(t, all, len(builtinAgents)+1)
	// Builtins sort ahead of repo agents.
	assert.Equal(t, SourceBuiltin, all[0].Source)
	assert.Equal(t, "@security-auditor", all[len(all)-1].ID)
}

func TestList_SpecialistsExcludesRepo(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".crewkit", "agents")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.json"),
		[]byte(`{"id":"@x","name":"X","description":"d"}`), 0o644))

	r := NewRegistry(ws)
	for _, a := range r.List(FilterSpecialists) {
		assert.Equal(t, SourceBuiltin, a.Source)
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry("")
	a, ok := r.Get("@coder")
	require.True(t, ok)
	assert.Equal(t, "Coder", a.Name)

	_, ok = r.Get("@nope")
	assert.False(t, ok)
}

func TestInvalidate_RereadsManifests(t *testing.T) {
	ws := t.TempDir()
	r := NewRegistry(ws)
	assert.Empty(t, r.List(FilterCustom))

	dir := filepath.Join(ws, ".crewkit", "agents")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.json"),
		[]byte(`{"id":"@y","name":"Y","description":"d"}`), 0o644))

	// Cached until invalidated.
	assert.Empty(t, r.List(FilterCustom))
	r.Invalidate()
	assert.Len(t, r.List(FilterCustom), 1)
}

func TestDefaultApprovalPolicy(t *testing.T) {
	p := DefaultApprovalPolicy()
	assert.Contains(t, p.SafeReadPatterns, "**/*.go")
	assert.Contains(t, p.SafeReadPatterns, "**/*.ts")
	assert.Contains(t, p.SafeReadPatterns, "**/*.py")
	assert.Contains(t, p.SafeCommands, "go test")
	assert.NotEmpty(t, p.SafeWritePatternsInWorktree)
}
