package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thinkxlife/brain/internal/config"
	"github.com/thinkxlife/brain/internal/jsonx"
)

func newLocalBackend(t *testing.T, handler http.HandlerFunc) (*Local, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewLocal(config.ProviderConfig{Enabled: true, Endpoint: srv.URL}, zaptest.NewLogger(t)), srv
}

func TestLocalInvokeSendsBackendPayload(t *testing.T) {
	var got map[string]interface{}
	local, _ := newLocalBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		require.NoError(t, jsonx.DecodeReader(r.Body, &got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"hi there","tokens_used":12}`))
	})

	reply, err := local.Invoke(context.Background(), &Invocation{
		RequestID: "r1",
		UserID:    "u1",
		SessionID: "s1",
		Message:   "hello",
		Age:       34,
		Hints:     map[string]string{"flavor": "healing", "trauma_safe": "true"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi there", reply.Message)
	assert.Equal(t, 12, reply.TokensUsed)

	assert.Equal(t, "hello", got["message"])
	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, float64(34), got["age"])
	brainCtx := got["context"].(map[string]interface{})["brain_context"].(map[string]interface{})
	assert.Equal(t, "true", brainCtx["trauma_safe"])
}

func TestLocalInvokeMessageFieldFallback(t *testing.T) {
	local, _ := newLocalBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"fallback shape"}`))
	})

	reply, err := local.Invoke(context.Background(), &Invocation{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fallback shape", reply.Message)
}

func TestLocalInvokeBackendErrorStatus(t *testing.T) {
	local, _ := newLocalBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := local.Invoke(context.Background(), &Invocation{Message: "hi"})
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "local", failure.Provider)
	assert.False(t, failure.Timeout)
}

func TestLocalInvokeTimeoutMarked(t *testing.T) {
	local, _ := newLocalBackend(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := local.Invoke(ctx, &Invocation{Message: "hi"})
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.True(t, failure.Timeout)
}

func TestLocalHealthy(t *testing.T) {
	local, _ := newLocalBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, local.Healthy(context.Background()))

	down := NewLocal(config.ProviderConfig{Enabled: true, Endpoint: "http://127.0.0.1:1"}, zaptest.NewLogger(t))
	assert.False(t, down.Healthy(context.Background()))
}
