// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// SafetyConfig bounds recursive delegation. The zero value is unusable;
// call DefaultSafetyConfig or LoadConfig.
type SafetyConfig struct {
	MaxDepthFromOrchestrator int `json:"max_depth_from_orchestrator" env:"CREWKIT_SAFETY_MAX_DEPTH_ORCHESTRATOR"`
	MaxDepthFromAgent        int `json:"max_depth_from_agent" env:"CREWKIT_SAFETY_MAX_DEPTH_AGENT"`
	MaxSubTasksPerWorker     int `json:"max_subtasks_per_worker" env:"CREWKIT_SAFETY_MAX_SUBTASKS_PER_WORKER"`
	MaxParallelSubTasks      int `json:"max_parallel_subtasks" env:"CREWKIT_SAFETY_MAX_PARALLEL_SUBTASKS"`
	SubTaskSpawnRateLimit    int `json:"subtask_spawn_rate_limit" env:"CREWKIT_SAFETY_SPAWN_RATE_LIMIT"`
}

// ModelPrice is dollars per million tokens.
type ModelPrice struct {
	InputPerMTok  float64 `json:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok"`
}

type RunnerConfig struct {
	Provider          string  `json:"provider" env:"CREWKIT_RUNNER_PROVIDER"`
	Model             string  `json:"model" env:"CREWKIT_RUNNER_MODEL"`
	APIKey            string  `json:"api_key" env:"CREWKIT_RUNNER_API_KEY"`
	BaseURL           string  `json:"base_url" env:"CREWKIT_RUNNER_BASE_URL"`
	MaxTokens         int     `json:"max_tokens" env:"CREWKIT_RUNNER_MAX_TOKENS"`
	Temperature       float64 `json:"temperature" env:"CREWKIT_RUNNER_TEMPERATURE"`
	RequestsPerMinute int     `json:"requests_per_minute" env:"CREWKIT_RUNNER_REQUESTS_PER_MINUTE"`
}

type PermissionConfig struct {
	Level                    string   `json:"level" env:"CREWKIT_PERMISSION_LEVEL"`
	TimeoutSeconds           int      `json:"timeout_seconds" env:"CREWKIT_PERMISSION_TIMEOUT_SECONDS"`
	SafeReadPatterns         []string `json:"safe_read_patterns"`
	SafeWritePatternsInTree  []string `json:"safe_write_patterns_in_worktree"`
	SafeCommands             []string `json:"safe_commands"`
	FileDenyPatterns         []string `json:"file_deny_patterns"`
	TerminalDenyList         []string `json:"terminal_deny_list"`
	AllowOutsideWorkspace    bool     `json:"allow_outside_workspace" env:"CREWKIT_PERMISSION_ALLOW_OUTSIDE_WORKSPACE"`
	ApprovalStorePath        string   `json:"approval_store_path" env:"CREWKIT_PERMISSION_APPROVAL_STORE"`
}

type MonitorConfig struct {
	MaxQueuedUpdates int `json:"max_queued_updates" env:"CREWKIT_MONITOR_MAX_QUEUED"`
}

type Config struct {
	Workspace  string                `json:"workspace" env:"CREWKIT_WORKSPACE"`
	BaseBranch string                `json:"base_branch" env:"CREWKIT_BASE_BRANCH"`
	Safety     SafetyConfig          `json:"safety"`
	Runner     RunnerConfig          `json:"runner"`
	Permission PermissionConfig      `json:"permission"`
	Monitor    MonitorConfig         `json:"monitor"`
	Pricing    map[string]ModelPrice `json:"pricing"`
}

// DefaultSafetyConfig returns the frozen service defaults.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		MaxDepthFromOrchestrator: 2,
		MaxDepthFromAgent:        1,
		MaxSubTasksPerWorker:     100,
		MaxParallelSubTasks:      20,
		SubTaskSpawnRateLimit:    100,
	}
}

func DefaultConfig() *Config {
	return &Config{
		BaseBranch: "main",
		Safety:     DefaultSafetyConfig(),
		Runner: RunnerConfig{
			Provider:          "anthropic",
			MaxTokens:         8192,
			Temperature:       0.7,
			RequestsPerMinute: 60,
		},
		Permission: PermissionConfig{
			Level:          "standard",
			TimeoutSeconds: 120,
			SafeReadPatterns: []string{
				"**/*.go", "**/*.ts", "**/*.js", "**/*.py", "**/*.md",
				"**/*.json", "**/*.yaml", "**/*.yml", "**/*.txt",
			},
			SafeWritePatternsInTree: []string{
				"**/*.go", "**/*.ts", "**/*.js", "**/*.py", "**/*.md", "**/*.json",
			},
			SafeCommands: []string{
				"git status", "git diff", "git log", "ls", "cat", "grep", "go build", "go test", "go vet", "npm test",
			},
			FileDenyPatterns: []string{"**/.env", "**/*.pem", "**/id_rsa", "**/*.key"},
			TerminalDenyList: []string{"rm -rf /", "mkfs", "shutdown", "reboot"},
		},
		Monitor: MonitorConfig{MaxQueuedUpdates: 1024},
		Pricing: map[string]ModelPrice{
			"claude-sonnet-4-5": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
			"claude-haiku-4-5":  {InputPerMTok: 1.0, OutputPerMTok: 5.0},
			"gpt-5":             {InputPerMTok: 1.25, OutputPerMTok: 10.0},
			"default":           {InputPerMTok: 3.0, OutputPerMTok: 15.0},
		},
	}
}

// LoadConfig reads the JSON config file if present, then applies
// CREWKIT_* env overrides on top. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	s := c.Safety
	if s.MaxDepthFromOrchestrator < 1 || s.MaxDepthFromAgent < 1 {
		return fmt.Errorf("config: depth limits must be >= 1 (orchestrator=%d agent=%d)",
			s.MaxDepthFromOrchestrator, s.MaxDepthFromAgent)
	}
	if s.MaxSubTasksPerWorker < 1 || s.MaxParallelSubTasks < 1 || s.SubTaskSpawnRateLimit < 1 {
		return fmt.Errorf("config: subtask limits must be >= 1")
	}
	if c.Monitor.MaxQueuedUpdates < 1 {
		return fmt.Errorf("config: monitor.max_queued_updates must be >= 1")
	}
	return nil
}

// PermissionTimeout returns the configured permission timeout as a duration.
func (c *Config) PermissionTimeout() time.Duration {
	if c.Permission.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Permission.TimeoutSeconds) * time.Second
}

// DefaultConfigPath resolves ~/.crewkit/config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".crewkit", "config.json")
}
