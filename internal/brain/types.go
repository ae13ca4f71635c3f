// Package brain orchestrates AI requests for the wellness platform:
// normalization, identity and context resolution, policy admission,
// provider routing, and async interaction recording.
package brain

import (
	"fmt"
	"strings"
	"time"

	"github.com/thinkxlife/brain/internal/provider"
)

// Application identifies which platform surface originated a request.
// Routing preferences and context enhancement vary per application.
type Application string

const (
	AppHealingRooms   Application = "healing-rooms"
	AppAIAwareness    Application = "ai-awareness"
	AppChatbot        Application = "chatbot"
	AppCompliance     Application = "compliance"
	AppExteriorSpaces Application = "exterior-spaces"
	AppGeneral        Application = "general"
)

var applications = map[Application]bool{
	AppHealingRooms:   true,
	AppAIAwareness:    true,
	AppChatbot:        true,
	AppCompliance:     true,
	AppExteriorSpaces: true,
	AppGeneral:        true,
}

// ParseApplication maps a wire string onto the closed Application set.
// Empty input defaults to general.
func ParseApplication(s string) (Application, error) {
	if strings.TrimSpace(s) == "" {
		return AppGeneral, nil
	}
	app := Application(strings.ToLower(strings.TrimSpace(s)))
	if !applications[app] {
		return AppGeneral, fmt.Errorf("unknown application %q", s)
	}
	return app, nil
}

// flavor maps an application onto the routing and prompt hint the
// provider layer understands.
func (a Application) flavor() string {
	switch a {
	case AppHealingRooms:
		return "healing"
	case AppAIAwareness:
		return "educational"
	case AppCompliance:
		return "compliance"
	case AppExteriorSpaces:
		return "creative"
	default:
		return "conversational"
	}
}

// Preferences are per-user presentation preferences.
type Preferences struct {
	Theme              string `json:"theme"`
	Language           string `json:"language"`
	CommunicationStyle string `json:"communicationStyle"`
}

// UserProfile is the resolved identity snapshot used for the request.
type UserProfile struct {
	UserID         string      `json:"userId"`
	Name           string      `json:"name,omitempty"`
	Email          string      `json:"email,omitempty"`
	Age            int         `json:"age,omitempty"`
	KnowledgeLevel string      `json:"knowledgeLevel"`
	Permissions    []string    `json:"permissions"`
	Preferences    Preferences `json:"preferences"`
}

// UserContext is the client-supplied context block on an AIRequest.
type UserContext struct {
	SessionID string            `json:"sessionId,omitempty"`
	Page      string            `json:"page,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RequestMetadata is derived by the normalizer, never trusted from the
// client.
type RequestMetadata struct {
	RequestID  string            `json:"requestId"`
	Timestamp  time.Time         `json:"timestamp"`
	ClientIP   string            `json:"clientIp,omitempty"`
	DeviceType string            `json:"deviceType,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Hints      map[string]string `json:"-"`
}

// AIRequest is a normalized request flowing through the pipeline.
type AIRequest struct {
	Message     string          `json:"message"`
	Application Application     `json:"application"`
	Context     UserContext     `json:"context"`
	Metadata    RequestMetadata `json:"metadata"`

	// Populated by the resolver.
	Profile   *UserProfile `json:"-"`
	SessionID string       `json:"-"`

	// Populated by context enhancement for the chatbot application.
	RetrievedDocs []provider.Doc  `json:"-"`
	History       []provider.Turn `json:"-"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	RequestID        string    `json:"requestId"`
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	TokensUsed       int       `json:"tokensUsed,omitempty"`
	ProcessingMillis int64     `json:"processingTimeMs"`
	SessionID        string    `json:"sessionId,omitempty"`
}

// AIResponse is the pipeline result. Success=false always carries a
// non-empty Error.
type AIResponse struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata ResponseMetadata       `json:"metadata"`
}
