package brain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/auth"
	"github.com/thinkxlife/brain/internal/conversation"
	"github.com/thinkxlife/brain/internal/policy"
	"github.com/thinkxlife/brain/internal/provider"
	"github.com/thinkxlife/brain/internal/session"
)

// Retriever finds grounding documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]provider.Doc, error)
}

// Status is the aggregate service state reported by GET /brain.
type Status struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Providers []provider.Status `json:"providers"`
}

// Core runs the request pipeline: normalize, resolve, admit, enhance,
// route, record. It is constructed once at startup and holds no global
// state.
type Core struct {
	normalizer *Normalizer
	resolver   *Resolver
	gate       *policy.Gate
	router     *provider.Router
	recorder   *Recorder
	retriever  Retriever
	history    conversation.Store

	maxHistory int
	maxDocs    int
	logger     *zap.Logger
}

// CoreOptions carries the optional collaborators and tuning knobs.
type CoreOptions struct {
	Retriever  Retriever          // nil disables document grounding
	History    conversation.Store // nil disables history replay
	MaxHistory int                // turns of history per invocation (default 50)
	MaxDocs    int                // retrieved docs per invocation (default 3)
}

// NewCore assembles the pipeline.
func NewCore(normalizer *Normalizer, resolver *Resolver, gate *policy.Gate, router *provider.Router, recorder *Recorder, opts CoreOptions, logger *zap.Logger) *Core {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 50
	}
	if opts.MaxDocs <= 0 {
		opts.MaxDocs = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		normalizer: normalizer,
		resolver:   resolver,
		gate:       gate,
		router:     router,
		recorder:   recorder,
		retriever:  opts.Retriever,
		history:    opts.History,
		maxHistory: opts.MaxHistory,
		maxDocs:    opts.MaxDocs,
		logger:     logger,
	}
}

// ProcessRequest runs the full pipeline. The returned response is
// always non-nil; the returned error, when set, classifies the failure
// for transport status mapping (ValidationError, AuthenticationError,
// RateLimitError) and the response already carries the wire shape.
func (c *Core) ProcessRequest(ctx context.Context, in *Inbound, httpReq *http.Request, principal *auth.Principal) (*AIResponse, error) {
	started := time.Now()

	req, err := c.normalizer.Normalize(in, httpReq)
	if err != nil {
		return failure(nil, started, err.Error()), err
	}

	log := c.logger.With(
		zap.String("request_id", req.Metadata.RequestID),
		zap.String("application", string(req.Application)),
	)

	if err := c.resolver.Resolve(ctx, req, principal); err != nil {
		var authErr *AuthenticationError
		switch {
		case errors.As(err, &authErr):
			return failure(req, started, "authentication required"), err
		case errors.Is(err, session.ErrTooManySessions):
			log.Warn("Session cap reached", zap.Error(err))
			return failure(req, started, "too many active sessions"), nil
		default:
			log.Error("Context resolution failed", zap.Error(err))
			return failure(req, started, "internal error"), err
		}
	}

	subject := &policy.Subject{
		UserID:          req.Profile.UserID,
		IsAuthenticated: true,
		Message:         req.Message,
		Hints:           req.Metadata.Hints,
	}
	if err := c.gate.Admit(ctx, subject); err != nil {
		var (
			rateErr    *policy.RateLimitError
			blockedErr *policy.ContentBlockedError
		)
		switch {
		case errors.Is(err, policy.ErrNotAuthenticated):
			return failure(req, started, "authentication required"), err
		case errors.As(err, &rateErr):
			return failure(req, started, rateErr.Error()), err
		case errors.As(err, &blockedErr):
			log.Info("Message blocked by content filter",
				zap.Strings("matched_terms", blockedErr.MatchedTerms))
			return failure(req, started, "message violates content policy"), nil
		default:
			log.Error("Policy check failed", zap.Error(err))
			return failure(req, started, "internal error"), err
		}
	}

	c.enhance(ctx, req, log)

	inv := &provider.Invocation{
		RequestID:      req.Metadata.RequestID,
		UserID:         req.Profile.UserID,
		SessionID:      req.SessionID,
		Message:        req.Message,
		Hints:          req.Metadata.Hints,
		History:        req.History,
		RetrievedDocs:  req.RetrievedDocs,
		Age:            req.Profile.Age,
		KnowledgeLevel: req.Profile.KnowledgeLevel,
	}

	reply, providerName, err := c.router.Route(ctx, inv)
	if err != nil {
		log.Warn("No provider could serve the request", zap.Error(err))
		resp := failure(req, started, "all providers unavailable")
		c.recorder.Record(req, resp)
		return resp, nil
	}

	resp := &AIResponse{
		Success: true,
		Message: reply.Message,
		Data:    reply.Data,
		Metadata: ResponseMetadata{
			RequestID:        req.Metadata.RequestID,
			Timestamp:        time.Now().UTC(),
			Provider:         providerName,
			Model:            reply.Model,
			TokensUsed:       reply.TokensUsed,
			ProcessingMillis: time.Since(started).Milliseconds(),
			SessionID:        req.SessionID,
		},
	}
	c.recorder.Record(req, resp)

	log.Info("Request served",
		zap.String("provider", providerName),
		zap.Int("tokens_used", reply.TokensUsed),
		zap.Int64("elapsed_ms", resp.Metadata.ProcessingMillis))
	return resp, nil
}

// enhance annotates the request with per-application hints, prior
// conversation turns, and grounding documents. Enhancement failures
// degrade silently; the provider call proceeds without the extras.
func (c *Core) enhance(ctx context.Context, req *AIRequest, log *zap.Logger) {
	req.Metadata.Hints["flavor"] = req.Application.flavor()

	if c.history != nil && req.SessionID != "" {
		msgs, err := c.history.History(ctx, req.SessionID, c.maxHistory)
		if err != nil {
			log.Warn("History load failed", zap.Error(err))
		} else {
			req.History = make([]provider.Turn, 0, len(msgs))
			for _, m := range msgs {
				req.History = append(req.History, provider.Turn{
					Role:    string(m.Role),
					Content: m.Content,
				})
			}
		}
	}

	if req.Application == AppChatbot && c.retriever != nil {
		docs, err := c.retriever.Retrieve(ctx, req.Message, c.maxDocs)
		if err != nil {
			log.Warn("Document retrieval failed", zap.Error(err))
		} else {
			req.RetrievedDocs = docs
		}
	}
}

// StatusReport returns provider availability from cached health state.
// No live provider calls happen here, so repeated polling is cheap and
// side-effect free.
func (c *Core) StatusReport() *Status {
	state := "operational"
	if !c.router.Operational() {
		state = "degraded"
	}
	return &Status{
		Status:    state,
		Timestamp: time.Now().UTC(),
		Providers: c.router.StatusReport(),
	}
}

// failure builds the error response shape. req may be nil when
// normalization itself failed.
func failure(req *AIRequest, started time.Time, msg string) *AIResponse {
	meta := ResponseMetadata{
		Timestamp:        time.Now().UTC(),
		ProcessingMillis: time.Since(started).Milliseconds(),
	}
	if req != nil {
		meta.RequestID = req.Metadata.RequestID
		meta.SessionID = req.SessionID
	}
	return &AIResponse{Success: false, Error: msg, Metadata: meta}
}
