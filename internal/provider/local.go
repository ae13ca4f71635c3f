package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/config"
	"github.com/thinkxlife/brain/internal/jsonx"
)

// Local is the in-house inference service. It sits first in every
// candidate list when enabled so conversations keep working without
// hosted API credentials.
type Local struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewLocal creates the local provider.
func NewLocal(cfg config.ProviderConfig, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Name implements Provider.
func (l *Local) Name() string { return "local" }

// Enabled implements Provider.
func (l *Local) Enabled() bool { return l.cfg.Enabled }

// localRequest is the wire payload the inference backend expects.
type localRequest struct {
	Message   string                 `json:"message"`
	UserID    string                 `json:"user_id"`
	SessionID string                 `json:"session_id"`
	Age       int                    `json:"age,omitempty"`
	Context   map[string]interface{} `json:"context"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// localResponse is the backend's reply shape.
type localResponse struct {
	Response       string                   `json:"response"`
	Message        string                   `json:"message"`
	ConversationID string                   `json:"conversation_id"`
	RetrievedDocs  []map[string]interface{} `json:"retrieved_docs"`
	TokensUsed     int                      `json:"tokens_used"`
}

// Invoke posts the request to the backend's /chat endpoint.
func (l *Local) Invoke(ctx context.Context, inv *Invocation) (*Reply, error) {
	start := time.Now()

	payload := localRequest{
		Message:   inv.Message,
		UserID:    inv.UserID,
		SessionID: inv.SessionID,
		Age:       inv.Age,
		Context: map[string]interface{}{
			"conversation_history": inv.History,
			"retrieved_docs":       inv.RetrievedDocs,
			"knowledge_level":      inv.KnowledgeLevel,
			"brain_context":        inv.Hints,
		},
		Metadata: map[string]interface{}{
			"request_id": inv.RequestID,
		},
	}

	// The request body is built in a pooled buffer; it is fully consumed
	// by the time client.Do returns.
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := jsonx.MarshalWrite(buf, payload); err != nil {
		return nil, &Failure{Provider: l.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.Endpoint+"/chat", bytes.NewReader(buf.B))
	if err != nil {
		return nil, &Failure{Provider: l.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &Failure{
			Provider: l.Name(),
			Timeout:  ctx.Err() == context.DeadlineExceeded,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Failure{Provider: l.Name(), Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{
			Provider: l.Name(),
			Err:      fmt.Errorf("backend returned status %d: %s", resp.StatusCode, respBody),
		}
	}

	var parsed localResponse
	if err := jsonx.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Failure{Provider: l.Name(), Err: fmt.Errorf("parse response: %w", err)}
	}

	message := parsed.Response
	if message == "" {
		message = parsed.Message
	}
	if message == "" {
		return nil, &Failure{Provider: l.Name(), Err: fmt.Errorf("empty reply from backend")}
	}

	data := map[string]interface{}{}
	if parsed.ConversationID != "" {
		data["conversation_id"] = parsed.ConversationID
	}
	if len(parsed.RetrievedDocs) > 0 {
		data["retrieved_docs"] = parsed.RetrievedDocs
	}

	return &Reply{
		Message:    message,
		Data:       data,
		Model:      "local-inference",
		TokensUsed: parsed.TokensUsed,
		Duration:   time.Since(start),
	}, nil
}

// Healthy probes the backend's health endpoint.
func (l *Local) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Debug("Local provider health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
