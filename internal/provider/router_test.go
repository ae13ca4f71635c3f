package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubProvider is a scriptable Provider for router tests.
type stubProvider struct {
	name    string
	enabled bool
	calls   int
	reply   *Reply
	err     error
	// hang makes Invoke block until the context deadline fires.
	hang bool
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Enabled() bool { return s.enabled }

func (s *stubProvider) Invoke(ctx context.Context, _ *Invocation) (*Reply, error) {
	s.calls++
	if s.hang {
		<-ctx.Done()
		return nil, &Failure{Provider: s.name, Timeout: true, Err: ctx.Err()}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubProvider) Healthy(context.Context) bool { return s.enabled }

func newTestRouter(t *testing.T, providers ...Provider) *Router {
	t.Helper()
	timeouts := map[string]time.Duration{
		"local": 50 * time.Millisecond, "openai": 50 * time.Millisecond, "anthropic": 50 * time.Millisecond,
	}
	r := NewRouter(providers, timeouts, zaptest.NewLogger(t))
	t.Cleanup(r.Close)
	return r
}

func TestRouteFirstCandidateSucceeds(t *testing.T) {
	local := &stubProvider{name: "local", enabled: true, reply: &Reply{Message: "hi"}}
	second := &stubProvider{name: "openai", enabled: true, reply: &Reply{Message: "other"}}
	r := newTestRouter(t, local, second)

	reply, name, err := r.Route(context.Background(), &Invocation{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "local", name)
	assert.Equal(t, "hi", reply.Message)
	assert.Equal(t, 1, local.calls)
	assert.Zero(t, second.calls)
}

func TestRouteFallsBackOnTimeout(t *testing.T) {
	local := &stubProvider{name: "local", enabled: true, hang: true}
	second := &stubProvider{name: "openai", enabled: true, reply: &Reply{Message: "fallback"}}
	r := newTestRouter(t, local, second)

	reply, name, err := r.Route(context.Background(), &Invocation{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Equal(t, "fallback", reply.Message)

	// The failed candidate is invoked once and never retried.
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, second.calls)
}

func TestRouteAllProvidersDown(t *testing.T) {
	boom := errors.New("boom")
	local := &stubProvider{name: "local", enabled: true, err: &Failure{Provider: "local", Err: boom}}
	second := &stubProvider{name: "openai", enabled: true, err: &Failure{Provider: "openai", Err: boom}}
	r := newTestRouter(t, local, second)

	_, _, err := r.Route(context.Background(), &Invocation{Message: "hello"})
	require.ErrorIs(t, err, ErrAllProvidersUnavailable)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, second.calls)
}

func TestRouteSkipsDisabledProviders(t *testing.T) {
	local := &stubProvider{name: "local", enabled: false}
	second := &stubProvider{name: "openai", enabled: true, reply: &Reply{Message: "ok"}}
	r := newTestRouter(t, local, second)

	_, name, err := r.Route(context.Background(), &Invocation{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Zero(t, local.calls)
}

func TestCandidateOrderByFlavor(t *testing.T) {
	local := &stubProvider{name: "local", enabled: true, reply: &Reply{Message: "local"}}
	oa := &stubProvider{name: "openai", enabled: true, reply: &Reply{Message: "oa"}}
	an := &stubProvider{name: "anthropic", enabled: true, reply: &Reply{Message: "an"}}
	r := newTestRouter(t, local, oa, an)

	cases := map[string]string{
		"healing":     "anthropic",
		"compliance":  "anthropic",
		"educational": "openai",
		"creative":    "openai",
		"":            "local",
		"general":     "local",
	}
	for flavor, want := range cases {
		candidates := r.Candidates(flavor)
		require.NotEmpty(t, candidates, "flavor %q", flavor)
		assert.Equal(t, want, candidates[0].Name(), "flavor %q", flavor)
		// All enabled providers stay reachable as fallbacks.
		assert.Len(t, candidates, 3, "flavor %q", flavor)
	}
}

func TestRouteCanceledCaller(t *testing.T) {
	local := &stubProvider{name: "local", enabled: true, reply: &Reply{Message: "hi"}}
	r := newTestRouter(t, local)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Route(ctx, &Invocation{Message: "hello"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, local.calls)
}

func TestStatusReportStableWithoutConfigChange(t *testing.T) {
	local := &stubProvider{name: "local", enabled: true}
	oa := &stubProvider{name: "openai", enabled: false}
	r := newTestRouter(t, local, oa)

	first := r.StatusReport()
	second := r.StatusReport()
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	assert.Equal(t, "local", first[0].Name)
	assert.True(t, first[0].Enabled)
	assert.False(t, first[1].Enabled)
}

func TestHealthFlagUpdatedOnFailure(t *testing.T) {
	local := &stubProvider{name: "local", enabled: true, err: &Failure{Provider: "local", Err: errors.New("down")}}
	oa := &stubProvider{name: "openai", enabled: true, reply: &Reply{Message: "ok"}}
	r := newTestRouter(t, local, oa)

	assert.True(t, r.Operational())

	_, _, err := r.Route(context.Background(), &Invocation{Message: "hello"})
	require.NoError(t, err)

	report := r.StatusReport()
	byName := map[string]Status{}
	for _, s := range report {
		byName[s.Name] = s
	}
	assert.False(t, byName["local"].Healthy)
	assert.True(t, byName["openai"].Healthy)
}
