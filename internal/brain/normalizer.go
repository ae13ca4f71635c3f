package brain

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength caps incoming message size before any downstream
// work happens.
const MaxMessageLength = 8192

// ValidationError reports a rejected inbound request with the offending
// field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// Inbound is the raw wire payload of POST /brain before normalization.
type Inbound struct {
	Message     string      `json:"message"`
	Application string      `json:"application"`
	Context     UserContext `json:"context"`
}

// Normalizer turns raw inbound payloads into validated AIRequests with
// server-derived metadata. It holds no state and is safe for concurrent
// use.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize validates the payload and stamps request id, timestamp, and
// client metadata. httpReq may be nil for non-HTTP callers.
func (n *Normalizer) Normalize(in *Inbound, httpReq *http.Request) (*AIRequest, error) {
	if in == nil {
		return nil, &ValidationError{Field: "body", Reason: "is missing"}
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, &ValidationError{Field: "message", Reason: "is required"}
	}
	if len(in.Message) > MaxMessageLength {
		return nil, &ValidationError{Field: "message", Reason: fmt.Sprintf("exceeds %d bytes", MaxMessageLength)}
	}

	app, err := ParseApplication(in.Application)
	if err != nil {
		return nil, &ValidationError{Field: "application", Reason: err.Error()}
	}

	req := &AIRequest{
		Message:     strings.TrimSpace(in.Message),
		Application: app,
		Context:     in.Context,
		Metadata: RequestMetadata{
			RequestID: uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Hints:     make(map[string]string),
		},
	}

	if httpReq != nil {
		req.Metadata.UserAgent = httpReq.UserAgent()
		req.Metadata.ClientIP = clientIP(httpReq)
		req.Metadata.DeviceType = deviceType(httpReq.UserAgent())
	}
	return req, nil
}

// clientIP extracts the originating address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}

// deviceType classifies the caller from its User-Agent.
func deviceType(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}
