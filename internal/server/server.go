// Package server exposes the request pipeline over HTTP.
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/auth"
	"github.com/thinkxlife/brain/internal/brain"
	"github.com/thinkxlife/brain/internal/conversation"
	"github.com/thinkxlife/brain/internal/jsonx"
	"github.com/thinkxlife/brain/internal/policy"
)

const maxBodyBytes = 64 * 1024

// Server wires the core pipeline into HTTP handlers.
type Server struct {
	core    *brain.Core
	history conversation.Store
	authMW  *auth.Middleware
	logger  *zap.Logger
}

// New creates the HTTP layer. history may be nil; the replay endpoint
// then reports unavailable.
func New(core *brain.Core, history conversation.Store, authMW *auth.Middleware, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{core: core, history: history, authMW: authMW, logger: logger}
}

// Handler assembles the full middleware chain and route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/brain", s.handleProcess).Methods("POST")
	r.HandleFunc("/brain", s.handleStatus).Methods("GET")
	r.HandleFunc("/brain/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	chain := s.authMW.Wrap(r)
	chain = s.logRequests(chain)
	chain = handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{s.logger}))(chain)
	chain = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(chain)
	return chain
}

// handleProcess serves POST /brain.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	var in brain.Inbound
	if err := jsonx.Unmarshal(body, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	resp, err := s.core.ProcessRequest(r.Context(), &in, r, auth.PrincipalFrom(r.Context()))
	s.writeJSON(w, statusFor(resp, err), resp)
}

// statusFor maps pipeline outcomes onto HTTP codes. Policy denials that
// are part of normal operation (content filter, provider exhaustion)
// stay 200 with success=false in the body.
func statusFor(resp *brain.AIResponse, err error) int {
	if err == nil {
		return http.StatusOK
	}

	var (
		vErr    *brain.ValidationError
		authErr *brain.AuthenticationError
		rateErr *policy.RateLimitError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.As(err, &authErr), errors.Is(err, policy.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	default:
		// Detail stays server-side; the body already carries the
		// generic error string.
		return http.StatusInternalServerError
	}
}

// handleStatus serves GET /brain. Public, cheap, and side-effect free
// so dashboards can poll it.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.core.StatusReport())
}

// handleHistory serves GET /brain/history?sessionId=&limit=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history storage not configured")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	msgs, err := s.history.History(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("History lookup failed",
			zap.String("session_id", sessionID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"messages":  msgs,
		"count":     len(msgs),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		s.logger.Error("Response encoding failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]interface{}{
		"success":   false,
		"error":     msg,
		"timestamp": time.Now().UTC(),
	})
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(started)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// recoveryLogger adapts zap to gorilla's recovery handler.
type recoveryLogger struct {
	logger *zap.Logger
}

func (l *recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Handler panic recovered", zap.Any("detail", v))
}
