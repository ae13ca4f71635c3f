package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is one provider's entry in the service status report.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
}

// Router selects providers for a request and drives fallback. Priority
// is static configuration: deterministic ordering is preferred over
// load-based routing so behavior stays predictable for trauma-sensitive
// applications.
type Router struct {
	providers map[string]Provider
	timeouts  map[string]time.Duration
	logger    *zap.Logger

	mu     sync.RWMutex
	health map[string]bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRouter creates a router over the registered providers. timeouts
// maps provider name to its per-call deadline.
func NewRouter(providers []Provider, timeouts map[string]time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	byName := make(map[string]Provider, len(providers))
	health := make(map[string]bool, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
		// Enabled providers start out presumed healthy; the flag is
		// corrected lazily on failure and by the background probe.
		health[p.Name()] = p.Enabled()
	}

	return &Router{
		providers: byName,
		timeouts:  timeouts,
		logger:    logger,
		health:    health,
		stop:      make(chan struct{}),
	}
}

// candidateOrder returns provider names in invocation priority for the
// given flavor hint. The local service leads for conversational use;
// hosted models lead where their strengths matter. Every list ends with
// the full set so no enabled provider is unreachable.
func candidateOrder(flavor string) []string {
	switch flavor {
	case "healing", "compliance":
		return []string{"anthropic", "local", "openai"}
	case "educational", "creative":
		return []string{"openai", "local", "anthropic"}
	default:
		return []string{"local", "openai", "anthropic"}
	}
}

// Candidates resolves the enabled providers for a flavor, in priority order.
func (r *Router) Candidates(flavor string) []Provider {
	var out []Provider
	for _, name := range candidateOrder(flavor) {
		if p, ok := r.providers[name]; ok && p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Route invokes candidates in order until one succeeds. Each call gets
// its own deadline from the provider's configured timeout; a failed or
// timed-out candidate is marked unhealthy and never retried within the
// same request.
func (r *Router) Route(ctx context.Context, inv *Invocation) (*Reply, string, error) {
	candidates := r.Candidates(inv.Hints["flavor"])
	if len(candidates) == 0 {
		return nil, "", ErrAllProvidersUnavailable
	}

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			// Caller disconnected; stop burning provider quota.
			return nil, "", err
		}

		timeout := r.timeouts[p.Name()]
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		reply, err := p.Invoke(callCtx, inv)
		cancel()

		if err == nil {
			r.setHealth(p.Name(), true)
			return reply, p.Name(), nil
		}

		r.setHealth(p.Name(), false)
		r.logger.Warn("Provider failed, trying next candidate",
			zap.String("provider", p.Name()),
			zap.String("request_id", inv.RequestID),
			zap.Error(err))
	}

	return nil, "", ErrAllProvidersUnavailable
}

// StatusReport returns every registered provider's enablement and
// last-known health, without making live calls.
func (r *Router) StatusReport() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.providers))
	for _, name := range []string{"local", "openai", "anthropic"} {
		p, ok := r.providers[name]
		if !ok {
			continue
		}
		out = append(out, Status{
			Name:    name,
			Enabled: p.Enabled(),
			Healthy: r.health[name],
		})
	}
	return out
}

// Operational reports whether at least one enabled provider is believed
// healthy.
func (r *Router) Operational() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, p := range r.providers {
		if p.Enabled() && r.health[name] {
			return true
		}
	}
	return false
}

// StartHealthLoop refreshes health flags on an interval.
func (r *Router) StartHealthLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.probe()
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *Router) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for name, p := range r.providers {
		if !p.Enabled() {
			continue
		}
		r.setHealth(name, p.Healthy(ctx))
	}
}

func (r *Router) setHealth(name string, healthy bool) {
	r.mu.Lock()
	r.health[name] = healthy
	r.mu.Unlock()
}

// Close stops the health loop.
func (r *Router) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}
