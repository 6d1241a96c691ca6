package runner

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"

	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/logger"
)

// OpenAIRunner drives agent turns through the Chat Completions API.
// Used for OpenAI-compatible backends as well via BaseURL.
type OpenAIRunner struct {
	client    *openai.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

func NewOpenAIRunner(cfg config.RunnerConfig) *OpenAIRunner {
	reqOpts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	client := openai.NewClient(reqOpts...)

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &OpenAIRunner{
		client:    &client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

func (r *OpenAIRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return &Result{Status: StatusCancelled}, nil
		}
	}

	model := req.Model
	if model == "" {
		model = r.model
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if system := systemPrompt(req); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            messages,
		MaxCompletionTokens: openai.Opt(r.maxTokens),
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &Result{Status: StatusCancelled, Model: model}, nil
		}
		logger.ErrorCF("runner", "OpenAI request failed", map[string]any{
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
	if resp == nil || len(resp.Choices) == 0 {
		err := errors.New("backend returned no choices")
		return &Result{Status: StatusFailed, Error: err.Error(), Model: model}, err
	}

	return &Result{
		Status: StatusCompleted,
		Output: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		Model: model,
	}, nil
}
