// Package policy implements the ordered admission checks run before any
// provider call: authentication, rate limiting, and content filtering.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotAuthenticated is returned when the caller has no verified identity.
var ErrNotAuthenticated = errors.New("authentication required")

// RateLimitError is returned when a quota window is exhausted.
type RateLimitError struct {
	Window     string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s", e.Limit, e.Window)
}

// ContentBlockedError is returned when a message matches the blocked-term
// policy. The request never reaches a provider.
type ContentBlockedError struct {
	MatchedTerms []string
}

func (e *ContentBlockedError) Error() string {
	return "message contains blocked content: " + strings.Join(e.MatchedTerms, ", ")
}
