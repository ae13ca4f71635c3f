package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/config"
)

// Anthropic routes invocations to the Anthropic messages API. It is the
// preferred hosted backend for trauma-sensitive applications.
type Anthropic struct {
	cfg    config.ProviderConfig
	client *anthropic.Client
	logger *zap.Logger
}

// NewAnthropic creates the Anthropic provider.
func NewAnthropic(cfg config.ProviderConfig, logger *zap.Logger) *Anthropic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Anthropic{
		cfg:    cfg,
		client: anthropic.NewClient(cfg.APIKey),
		logger: logger,
	}
}

// Name implements Provider.
func (a *Anthropic) Name() string { return "anthropic" }

// Enabled implements Provider.
func (a *Anthropic) Enabled() bool { return a.cfg.Enabled && a.cfg.APIKey != "" }

// Invoke sends the messages request.
func (a *Anthropic) Invoke(ctx context.Context, inv *Invocation) (*Reply, error) {
	start := time.Now()

	messages := make([]anthropic.Message, 0, len(inv.History)+1)
	for _, turn := range inv.History {
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantTextMessage(turn.Content))
		} else {
			messages = append(messages, anthropic.NewUserTextMessage(turn.Content))
		}
	}
	messages = append(messages, anthropic.NewUserTextMessage(inv.Message))

	temperature := a.cfg.Temperature
	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(a.cfg.Model),
		System:      SystemPrompt(inv),
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, &Failure{
			Provider: a.Name(),
			Timeout:  errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded,
			Err:      err,
		}
	}
	if len(resp.Content) == 0 {
		return nil, &Failure{Provider: a.Name(), Err: fmt.Errorf("empty content in response")}
	}

	return &Reply{
		Message:    resp.Content[0].GetText(),
		Model:      string(resp.Model),
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Duration:   time.Since(start),
	}, nil
}

// Healthy reports configuration health only.
func (a *Anthropic) Healthy(context.Context) bool {
	return a.Enabled()
}
