// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package agents enumerates the agent catalogue (builtin specialists
// plus repo-local custom agents) and supplies the permission router's
// default auto-approval policy.
package agents

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/crewkit/crewkit/pkg/logger"
)

type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceRepo    Source = "repo"
)

// Agent describes a deployable agent type.
type Agent struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	Source                Source   `json:"source"`
	Tools                 []string `json:"tools,omitempty"`
	Backend               string   `json:"backend,omitempty"`
	HasArchitectureAccess bool     `json:"has_architecture_access,omitempty"`
}

// ListFilter selects which part of the catalogue List returns.
type ListFilter string

const (
	FilterAll         ListFilter = "all"
	FilterSpecialists ListFilter = "specialists"
	FilterCustom      ListFilter = "custom"
)

// repoAgentDir is where repo-local agent manifests live, relative to
// the workspace root.
const repoAgentDir = ".crewkit/agents"

var builtinAgents = []Agent{
	{ID: "@coder", Name: "Coder", Description: "Implements features and fixes in an isolated worktree", Source: SourceBuiltin, Tools: []string{"read", "write", "shell"}},
	{ID: "@architect", Name: "Architect", Description: "Designs module boundaries and data flow before code is written", Source: SourceBuiltin, Tools: []string{"read"}, HasArchitectureAccess: true},
	{ID: "@reviewer", Name: "Reviewer", Description: "Reviews diffs for correctness and style", Source: SourceBuiltin, Tools: []string{"read", "shell"}},
	{ID: "@tester", Name: "Tester", Description: "Writes and runs tests against a change", Source: SourceBuiltin, Tools: []string{"read", "write", "shell"}},
	{ID: "@doc-writer", Name: "Doc Writer", Description: "Maintains docs alongside code changes", Source: SourceBuiltin, Tools: []string{"read", "write"}},
}

// Registry caches the catalogue per workspace.
type Registry struct {
	workspace string

	mu     sync.Mutex
	loaded bool
	repo   []Agent
}

func NewRegistry(workspace string) *Registry {
	return &Registry{workspace: workspace}
}

// List returns agents matching the filter, builtin first, each source
// sorted by id.
func (r *Registry) List(filter ListFilter) []Agent {
	var out []Agent
	if filter == FilterAll || filter == FilterSpecialists || filter == "" {
		out = append(out, builtinAgents...)
	}
	if filter == FilterAll || filter == FilterCustom || filter == "" {
		out = append(out, r.repoAgents()...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source == SourceBuiltin
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get resolves an agent by id across both sources.
func (r *Registry) Get(id string) (Agent, bool) {
	for _, a := range r.List(FilterAll) {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

func (r *Registry) repoAgents() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return r.repo
	}
	r.loaded = true

	if r.workspace == "" {
		return nil
	}
	dir := filepath.Join(r.workspace, repoAgentDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var agent Agent
		if err := json.Unmarshal(data, &agent); err != nil {
			logger.WarnCF("agents", "Skipping malformed agent manifest", map[string]any{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		if agent.ID == "" {
			continue
		}
		agent.Source = SourceRepo
		r.repo = append(r.repo, agent)
	}
	return r.repo
}

// Invalidate forces the next List to re-read repo manifests.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.repo = nil
}
