// Package provider defines the interchangeable AI backend interface and
// the priority-ordered router that drives fallback between backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Invocation is the provider-agnostic request payload.
type Invocation struct {
	RequestID string
	UserID    string
	SessionID string
	Message   string
	// Hints carries content-handling tags ("trauma_safe", application
	// flavor) that providers fold into their system prompt.
	Hints map[string]string
	// History is prior conversation turns, oldest first.
	History []Turn
	// RetrievedDocs is optional grounding material for the reply.
	RetrievedDocs []Doc
	// Profile facts the local backend consumes directly.
	Age            int
	KnowledgeLevel string
}

// Turn is one prior exchange message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Doc is one retrieved grounding document.
type Doc struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Reply is the normalized provider response.
type Reply struct {
	Message    string
	Data       map[string]interface{}
	Model      string
	TokensUsed int
	Duration   time.Duration
}

// Failure wraps a single provider's error so the router can distinguish
// timeouts from transport and server errors when logging fallback.
type Failure struct {
	Provider string
	Timeout  bool
	Err      error
}

func (f *Failure) Error() string {
	if f.Timeout {
		return fmt.Sprintf("provider %s timed out: %v", f.Provider, f.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", f.Provider, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ErrAllProvidersUnavailable is returned when every candidate failed.
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// Provider is one interchangeable AI backend. Invoke must honor the
// context deadline; the router sets one per call from the provider's
// configured timeout.
type Provider interface {
	Name() string
	Enabled() bool
	Invoke(ctx context.Context, inv *Invocation) (*Reply, error)
	Healthy(ctx context.Context) bool
}

// SystemPrompt builds the instruction prefix shared by the hosted
// providers from the invocation's hints.
func SystemPrompt(inv *Invocation) string {
	prompt := "You are a supportive, empathetic assistant for a wellness platform."

	switch inv.Hints["flavor"] {
	case "healing":
		prompt += " Respond with trauma-informed care. Be gentle and validating."
	case "educational":
		level := inv.KnowledgeLevel
		if level == "" {
			level = "beginner"
		}
		prompt += " Explain AI concepts and ethics clearly, pitched at a " + level + " level."
	case "compliance":
		prompt += " Answer with precision about regulations and ethical guidelines. Cite sources when you can."
	case "creative":
		prompt += " Help with exterior space and design ideas. Be imaginative and concrete."
	}

	if inv.Hints["trauma_safe"] == "true" {
		prompt += " Avoid graphic, violent, or otherwise distressing descriptions."
	}

	if len(inv.RetrievedDocs) > 0 {
		prompt += "\n\nRelevant reference material:\n"
		for _, doc := range inv.RetrievedDocs {
			prompt += "- " + doc.Title + ": " + doc.Content + "\n"
		}
	}

	return prompt
}
