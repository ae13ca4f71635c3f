package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thinkxlife/brain/internal/auth"
	"github.com/thinkxlife/brain/internal/brain"
	"github.com/thinkxlife/brain/internal/conversation"
	"github.com/thinkxlife/brain/internal/jsonx"
	"github.com/thinkxlife/brain/internal/policy"
	"github.com/thinkxlife/brain/internal/profile"
	"github.com/thinkxlife/brain/internal/provider"
	"github.com/thinkxlife/brain/internal/rbac"
	"github.com/thinkxlife/brain/internal/session"
)

type echoProvider struct{}

func (echoProvider) Name() string  { return "local" }
func (echoProvider) Enabled() bool { return true }

func (echoProvider) Invoke(_ context.Context, inv *provider.Invocation) (*provider.Reply, error) {
	return &provider.Reply{Message: "echo: " + inv.Message, Model: "echo-1"}, nil
}

func (echoProvider) Healthy(context.Context) bool { return true }

type serverFixture struct {
	handler http.Handler
	token   string
	store   *conversation.MemoryStore
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	router := provider.NewRouter([]provider.Provider{echoProvider{}}, nil, logger)
	t.Cleanup(router.Close)

	limiter, err := policy.NewMemoryLimiter(policy.LimitConfig{PerMinute: 60, PerHour: 1000}, 100)
	require.NoError(t, err)
	gate := policy.NewGate(policy.GateConfig{
		RequireAuth:          true,
		RateLimitEnabled:     true,
		ContentFilterEnabled: true,
	}, limiter, policy.NewContentFilter(true, []string{"slur"}, true), nil, logger)

	mgr := session.NewManager(session.NewMemoryStore(), time.Hour, 10, logger)
	t.Cleanup(mgr.Close)
	resolver := brain.NewResolver(profile.NewMemoryStore(), rbac.NewStaticService(nil), mgr, logger)

	store := conversation.NewMemoryStore()
	core := brain.NewCore(brain.NewNormalizer(), resolver, gate, router,
		brain.NewRecorder(store, time.Second, logger), brain.CoreOptions{History: store}, logger)

	authMW := auth.NewMiddleware("test-secret", logger, "/brain", "/health")
	token, err := authMW.GenerateToken("u1", "u1@example.com", time.Hour)
	require.NoError(t, err)

	return &serverFixture{
		handler: New(core, store, authMW, logger).Handler(),
		token:   token,
		store:   store,
	}
}

func (f *serverFixture) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestProcessEndpointSuccess(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("POST", "/brain", `{"message":"hello","application":"general"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "echo: hello", body["message"])
}

func TestProcessEndpointRequiresAuth(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("POST", "/brain", `{"message":"hello"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProcessEndpointRejectsMalformedJSON(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("POST", "/brain", `{"message":`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestProcessEndpointRejectsEmptyMessage(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("POST", "/brain", `{"message":"  "}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func TestProcessEndpointContentBlockedStays200(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("POST", "/brain", `{"message":"that slur is unacceptable"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestStatusEndpointIsPublic(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/brain", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, "operational", body["status"])
	assert.NotEmpty(t, body["providers"])
}

func TestStatusEndpointIdempotent(t *testing.T) {
	f := newServerFixture(t)

	first := decodeResponse(t, f.do("GET", "/brain", "", false))
	second := decodeResponse(t, f.do("GET", "/brain", "", false))
	assert.Equal(t, first["status"], second["status"])
	assert.Equal(t, first["providers"], second["providers"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeResponse(t, rec)["status"])
}

func TestHistoryEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("POST", "/brain", `{"message":"remember this"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decodeResponse(t, rec)["metadata"].(map[string]interface{})["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	// Recorder writes async; give it a moment.
	require.Eventually(t, func() bool {
		return f.store.Count(sessionID) == 2
	}, time.Second, 10*time.Millisecond)

	rec = f.do("GET", "/brain/history?sessionId="+sessionID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, float64(2), body["count"])
}

func TestHistoryEndpointRequiresSessionID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/brain/history", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
