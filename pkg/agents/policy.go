package agents

// ApprovalPolicy is the per-worker auto-approval surface handed to the
// permission router when a subtask is deployed.
type ApprovalPolicy struct {
	SafeReadPatterns            []string
	SafeWritePatternsInWorktree []string
	SafeCommands                []string
}

// DefaultApprovalPolicy returns the baseline policy every spawned
// worker starts from. Reads of source and docs are safe anywhere; writes
// are only safe inside the worker's own worktree; shell commands match
// by prefix.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		SafeReadPatterns: []string{
			"**/*.go", "**/*.ts", "**/*.js", "**/*.py", "**/*.md",
			"**/*.json", "**/*.yaml", "**/*.yml", "**/*.txt",
			"**/*.mod", "**/*.sum", "**/*.toml",
		},
		SafeWritePatternsInWorktree: []string{
			"**/*.go", "**/*.ts", "**/*.js", "**/*.py", "**/*.md",
			"**/*_test.go", "**/*.json", "**/*.yaml",
		},
		SafeCommands: []string{
			"go build", "go test", "go vet", "go fmt", "gofmt",
			"git status", "git diff", "git log", "git add", "git commit",
			"ls", "cat", "grep", "rg", "find", "wc", "head", "tail",
		},
	}
}
