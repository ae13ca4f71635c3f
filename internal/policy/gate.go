package policy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Subject is the slice of request state the gate inspects: who is
// calling and what they said. Hints receives content-handling tags for
// the downstream provider call.
type Subject struct {
	UserID          string
	IsAuthenticated bool
	Message         string
	Hints           map[string]string
}

// GateConfig toggles the individual checks.
type GateConfig struct {
	RequireAuth          bool
	RateLimitEnabled     bool
	ContentFilterEnabled bool
}

// Gate runs the admission checks in a fixed order, short-circuiting on
// the first failure: authentication, then rate limiting, then content
// filtering. A failed check means no provider is ever invoked.
type Gate struct {
	config  GateConfig
	limiter Limiter
	filter  *ContentFilter
	audit   *AuditLogger
	logger  *zap.Logger
}

// NewGate assembles the admission pipeline.
func NewGate(config GateConfig, limiter Limiter, filter *ContentFilter, audit *AuditLogger, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		config:  config,
		limiter: limiter,
		filter:  filter,
		audit:   audit,
		logger:  logger,
	}
}

// Admit runs the checks. A nil return means the request may proceed to
// provider routing; Subject.Hints may have been annotated on the way.
func (g *Gate) Admit(ctx context.Context, subject *Subject) error {
	// 1. Authentication. Runs first so an unauthenticated caller never
	// consumes quota.
	if g.config.RequireAuth && !subject.IsAuthenticated {
		if g.audit != nil {
			g.audit.Deny(subject.UserID, "auth", "no verified principal")
		}
		return ErrNotAuthenticated
	}

	// 2. Rate limiting.
	if g.config.RateLimitEnabled && g.limiter != nil {
		result, err := g.limiter.Allow(ctx, subject.UserID)
		if err != nil {
			// Limiter backends fail open; an error here is unexpected.
			g.logger.Warn("Rate limiter error, allowing request", zap.Error(err))
		} else if !result.Allowed {
			if g.audit != nil {
				g.audit.Deny(subject.UserID, "rate_limit",
					fmt.Sprintf("%s window exhausted", result.Window))
			}
			return &RateLimitError{
				Window:     result.Window,
				Limit:      result.Limit,
				RetryAfter: result.RetryAfter,
			}
		}
	}

	// 3. Content filtering.
	if g.config.ContentFilterEnabled && g.filter != nil {
		result := g.filter.Scan(subject.Message)
		if !result.Clean {
			if g.audit != nil {
				g.audit.Deny(subject.UserID, "content_filter",
					strings.Join(result.MatchedTerms, ", "))
			}
			return &ContentBlockedError{MatchedTerms: result.MatchedTerms}
		}
		if result.TraumaSafe {
			if subject.Hints == nil {
				subject.Hints = make(map[string]string)
			}
			subject.Hints["trauma_safe"] = "true"
		}
	}

	return nil
}
