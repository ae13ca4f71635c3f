package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/config"
)

// OpenAI routes invocations to the OpenAI chat completions API.
type OpenAI struct {
	cfg    config.ProviderConfig
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAI creates the OpenAI provider.
func NewOpenAI(cfg config.ProviderConfig, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	return &OpenAI{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Enabled implements Provider.
func (o *OpenAI) Enabled() bool { return o.cfg.Enabled && o.cfg.APIKey != "" }

// Invoke sends the chat completion request. Model parameters are passed
// through from configuration verbatim.
func (o *OpenAI) Invoke(ctx context.Context, inv *Invocation) (*Reply, error) {
	start := time.Now()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(inv)},
	}
	for _, turn := range inv.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: inv.Message,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return nil, &Failure{
			Provider: o.Name(),
			Timeout:  errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded,
			Err:      err,
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &Failure{Provider: o.Name(), Err: fmt.Errorf("no choices in response")}
	}

	return &Reply{
		Message:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
		Duration:   time.Since(start),
	}, nil
}

// Healthy reports configuration health only; hosted APIs are not probed
// on an interval to avoid burning quota.
func (o *OpenAI) Healthy(context.Context) bool {
	return o.Enabled()
}
