// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/logger"
)

const anthropicDefaultBaseURL = "https://api.anthropic.com"

// AnthropicRunner drives agent turns through the Anthropic Messages API.
type AnthropicRunner struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

func NewAnthropicRunner(cfg config.RunnerConfig) *AnthropicRunner {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	client := anthropic.NewClient(
		option.WithAuthToken(cfg.APIKey),
		option.WithBaseURL(baseURL),
	)

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &AnthropicRunner{
		client:    &client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

func (r *AnthropicRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return &Result{Status: StatusCancelled}, nil
		}
	}

	model := req.Model
	if model == "" {
		model = r.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: r.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system := systemPrompt(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &Result{Status: StatusCancelled, Model: model}, nil
		}
		logger.ErrorCF("runner", "Anthropic request failed", map[string]any{
			"agent": req.AgentType,
			"model": model,
			"error": err.Error(),
		})
		return &Result{
			Status: StatusFailed,
			Error:  err.Error(),
			Model:  model,
		}, err
	}

	var output strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			output.WriteString(block.AsText().Text)
		}
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)
	return &Result{
		Status: StatusCompleted,
		Output: output.String(),
		Usage:  Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
		Model:  model,
	}, nil
}

// systemPrompt merges the agent identity with its workspace binding so
// the agent knows where it is allowed to operate.
func systemPrompt(req Request) string {
	parts := make([]string, 0, 2)
	if req.SystemPrompt != "" {
		parts = append(parts, req.SystemPrompt)
	}
	if req.WorktreePath != "" {
		parts = append(parts, fmt.Sprintf("Your working directory is %s. All file operations happen inside it.", req.WorktreePath))
	}
	return strings.Join(parts, "\n\n")
}
