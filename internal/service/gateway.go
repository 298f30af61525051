package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	cfotel "github.com/Strob0t/argus/internal/adapter/otel"
	"github.com/Strob0t/argus/internal/config"
	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/port/provider"
	"github.com/Strob0t/argus/internal/resilience"
)

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// Providers maps provider names (as referenced by agent configs) to instances.
	Providers map[string]provider.Provider
	// Limits holds pool size and rate limits per provider name.
	Limits  map[string]config.Provider
	Agents  []agent.Config
	Breaker config.Breaker
	Retry   config.Retry
	// Cache is optional; nil disables response caching.
	Cache *ResponseCache
	// Score overrides agent.Score.
	Score agent.ScoreFunc
}

// Gateway is the single entry point for agent calls. It owns one slot per
// provider (connection pool, token bucket, circuit breaker) plus the
// response cache and the single-flight group.
type Gateway struct {
	agents  map[string]agent.Config
	order   []string
	slots   map[string]*providerSlot
	cache   *ResponseCache
	group   singleflight.Group
	policy  resilience.Policy
	score   agent.ScoreFunc
	stats   *agentStats
	metrics *cfotel.Metrics
	now     func() time.Time
}

type providerSlot struct {
	name     string
	provider provider.Provider
	pool     *Pool
	limiter  *rate.Limiter
	maxWait  time.Duration
	breaker  *resilience.Breaker
}

// ProviderHealth is the health snapshot of one provider slot.
type ProviderHealth struct {
	Provider string           `json:"provider"`
	Healthy  bool             `json:"healthy"`
	Breaker  resilience.State `json:"breaker"`
	PoolSize int              `json:"pool_size"`
	InFlight int              `json:"in_flight"`
	Error    string           `json:"error,omitempty"`
}

// uncounted marks errors that say nothing about provider health: local
// admission failures and calls abandoned by the caller.
type uncounted struct{ err error }

func (e *uncounted) Error() string { return e.err.Error() }
func (e *uncounted) Unwrap() error { return e.err }

// NewGateway creates a Gateway. Every agent must reference a configured provider.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	g := &Gateway{
		agents: make(map[string]agent.Config, len(opts.Agents)),
		slots:  make(map[string]*providerSlot, len(opts.Providers)),
		cache:  opts.Cache,
		score:  opts.Score,
		stats:  newAgentStats(),
		now:    time.Now,
		policy: resilience.Policy{
			MaxRetries: opts.Retry.MaxRetries,
			Backoff: resilience.Backoff{
				Base:   opts.Retry.BaseDelay,
				Max:    opts.Retry.MaxDelay,
				Jitter: opts.Retry.Jitter,
			},
			Retryable: retryable,
		},
	}
	if g.score == nil {
		g.score = agent.Score
	}

	for name, p := range opts.Providers {
		g.slots[name] = g.newSlot(name, p, opts.Limits[name], opts.Breaker)
	}

	for i := range opts.Agents {
		a := opts.Agents[i]
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		if _, ok := g.slots[a.Provider]; !ok {
			return nil, domain.Configf("agent %s uses unknown provider %s", a.Name, a.Provider)
		}
		if _, dup := g.agents[a.Name]; dup {
			return nil, domain.Configf("duplicate agent %s", a.Name)
		}
		g.agents[a.Name] = a
		g.order = append(g.order, a.Name)
	}
	for _, a := range g.agents {
		if a.Alternate != "" {
			if _, ok := g.agents[a.Alternate]; !ok {
				return nil, domain.Configf("agent %s: alternate %s is not configured", a.Name, a.Alternate)
			}
		}
	}
	return g, nil
}

func (g *Gateway) newSlot(name string, p provider.Provider, lim config.Provider, bc config.Breaker) *providerSlot {
	s := &providerSlot{
		name:     name,
		provider: p,
		pool:     NewPool(lim.PoolSize),
		maxWait:  lim.MaxWait,
		breaker:  resilience.NewBreaker(bc.MaxFailures, bc.Timeout),
	}
	if lim.RequestsPerSecond > 0 {
		burst := lim.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(lim.RequestsPerSecond), burst)
	}
	s.breaker.SetFailureFilter(func(err error) bool {
		var u *uncounted
		return !errors.As(err, &u) && !errors.Is(err, context.Canceled)
	})
	s.breaker.OnStateChange(func(from, to resilience.State) {
		slog.Warn("circuit breaker state change", "provider", name, "from", from, "to", to)
		if g.metrics != nil {
			g.metrics.BreakerTransitions.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("provider", name), attribute.String("to", string(to))))
		}
	})
	return s
}

// SetMetrics attaches OTEL metric instruments.
func (g *Gateway) SetMetrics(m *cfotel.Metrics) {
	g.metrics = m
	if g.cache != nil {
		g.cache.SetMetrics(m)
	}
}

// Agent returns the configuration of a registered agent.
func (g *Gateway) Agent(name string) (agent.Config, bool) {
	a, ok := g.agents[name]
	return a, ok
}

// HasAgent reports whether name is a registered agent.
func (g *Gateway) HasAgent(name string) bool {
	_, ok := g.agents[name]
	return ok
}

// Agents returns the registered agents in configuration order.
func (g *Gateway) Agents() []agent.Config {
	out := make([]agent.Config, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.agents[name])
	}
	return out
}

// AgentStats returns per-agent call counters sorted by agent name. Agents
// that have not made a provider call yet are omitted.
func (g *Gateway) AgentStats() []AgentStats {
	return g.stats.snapshot()
}

// CacheStats returns response cache counters; zero when caching is disabled.
func (g *Gateway) CacheStats() CacheStats {
	if g.cache == nil {
		return CacheStats{}
	}
	return g.cache.Stats()
}

// Invoke calls the agent with prompt. Cached answers are returned without
// network I/O. When the agent fails permanently and names an alternate, the
// call is repeated once against the alternate; the response then carries
// the primary's name and ServedBy set to the alternate.
func (g *Gateway) Invoke(ctx context.Context, ag agent.Config, prompt string, phaseContext map[string]string) (*agent.Response, error) {
	resp, err := g.invoke(ctx, ag, prompt, phaseContext)
	if err == nil || ag.Alternate == "" || ctx.Err() != nil || errors.Is(err, domain.ErrConfiguration) {
		return resp, err
	}
	alt, ok := g.agents[ag.Alternate]
	if !ok {
		return nil, err
	}

	slog.Warn("agent failed, failing over", "agent", ag.Name, "alternate", alt.Name, "error", err)
	if g.metrics != nil {
		g.metrics.GatewayFailovers.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", ag.Name)))
	}
	altResp, altErr := g.invoke(ctx, alt, prompt, phaseContext)
	if altErr != nil {
		return nil, &domain.OpError{Agent: ag.Name, Err: fmt.Errorf("%w; alternate %s: %w", err, alt.Name, altErr)}
	}
	cp := *altResp
	cp.AgentName = ag.Name
	cp.ServedBy = alt.Name
	return &cp, nil
}

func (g *Gateway) invoke(ctx context.Context, ag agent.Config, prompt string, phaseContext map[string]string) (resp *agent.Response, err error) {
	slot, ok := g.slots[ag.Provider]
	if !ok {
		return nil, &domain.OpError{Agent: ag.Name, Err: domain.Configf("unknown provider %s", ag.Provider)}
	}

	ctx, span := cfotel.StartGatewaySpan(ctx, ag.Name, ag.Provider, ag.Model)
	defer func() { cfotel.EndSpan(span, err) }()

	fp := Fingerprint(&ag, prompt, phaseContext)
	if g.cache != nil {
		if cached, ok := g.cache.Lookup(ctx, fp); ok {
			slog.Debug("response cache hit", "agent", ag.Name, "fingerprint", fp[:12])
			return cached.WithCacheOrigin(ag.Name), nil
		}
	}

	// Concurrent identical calls share the first caller's provider call and context.
	ch := g.group.DoChan(fp, func() (any, error) {
		// A leader that finished while our lookup was in flight has
		// already stored its response locally.
		if g.cache != nil {
			if cached, ok := g.cache.Recent(fp); ok {
				return cached.WithCacheOrigin(ag.Name), nil
			}
		}
		return g.call(ctx, slot, ag, prompt, fp)
	})
	select {
	case <-ctx.Done():
		return nil, &domain.OpError{Agent: ag.Name, Err: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		resp = r.Val.(*agent.Response)
		if resp.AgentName != ag.Name {
			cp := *resp
			cp.AgentName = ag.Name
			resp = &cp
		}
		return resp, nil
	}
}

// call runs the retry loop for one provider call:
// breaker → pool → token bucket → provider, bounded by the agent timeout.
func (g *Gateway) call(ctx context.Context, slot *providerSlot, ag agent.Config, prompt, fp string) (*agent.Response, error) {
	req := provider.Request{
		Model:       ag.Model,
		System:      SystemPrompt(ag.Role),
		Prompt:      prompt,
		MaxTokens:   ag.MaxTokens,
		Temperature: ag.Temperature,
	}

	var (
		comp    *provider.Completion
		latency time.Duration
	)
	attempts, err := g.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			slog.Debug("retrying provider call", "agent", ag.Name, "provider", slot.name, "attempt", attempt)
			if g.metrics != nil {
				g.metrics.GatewayRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", slot.name)))
			}
		}
		return slot.breaker.Execute(func() error {
			err := slot.pool.Run(ctx, func() error {
				if err := slot.admit(ctx); err != nil {
					return err
				}
				callCtx, cancel := context.WithTimeout(ctx, ag.CallTimeout())
				defer cancel()

				start := g.now()
				c, err := slot.provider.Complete(callCtx, req)
				latency = g.now().Sub(start)
				if err != nil {
					if ctx.Err() != nil {
						return &uncounted{err: fmt.Errorf("%w: %w", ctx.Err(), err)}
					}
					return err
				}
				comp = c
				return nil
			})
			if err != nil && comp == nil && ctx.Err() != nil {
				var u *uncounted
				if !errors.As(err, &u) {
					err = &uncounted{err: err}
				}
			}
			return err
		})
	})

	tokens := 0
	if comp != nil {
		tokens = comp.Usage.Total()
	}
	g.record(ctx, ag.Name, slot.name, latency, tokens, err)
	if err != nil {
		slog.Warn("provider call failed", "agent", ag.Name, "provider", slot.name, "attempts", attempts, "error", err)
		return nil, &domain.OpError{Agent: ag.Name, Attempt: attempts, Err: err}
	}

	model := comp.Model
	if model == "" {
		model = ag.Model
	}
	resp := &agent.Response{
		AgentName: ag.Name,
		Provider:  slot.name,
		Model:     model,
		Content:   comp.Content,
		Quality:   g.score(comp.Content, comp.Truncated),
		Decision:  agent.ParseDecision(comp.Content),
		Latency:   latency,
		Usage:     comp.Usage,
		Truncated: comp.Truncated,
		CreatedAt: g.now(),
	}
	if g.cache != nil {
		g.cache.Store(context.WithoutCancel(ctx), fp, resp)
	}
	return resp, nil
}

// admit takes a token from the bucket. Waiting longer than maxWait counts as
// rate-limit exhaustion.
func (s *providerSlot) admit(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	r := s.limiter.Reserve()
	if !r.OK() {
		return &uncounted{err: fmt.Errorf("%w: %s rate limit exhausted", domain.ErrProviderRejected, s.name)}
	}
	d := r.Delay()
	if s.maxWait > 0 && d > s.maxWait {
		r.Cancel()
		return &uncounted{err: fmt.Errorf("%w: %s rate limit exhausted (wait %s exceeds %s)",
			domain.ErrProviderRejected, s.name, d.Round(time.Millisecond), s.maxWait)}
	}
	if err := resilience.Sleep(ctx, d); err != nil {
		r.Cancel()
		return &uncounted{err: err}
	}
	return nil
}

func (g *Gateway) record(ctx context.Context, agentName, providerName string, latency time.Duration, tokens int, err error) {
	g.stats.record(agentName, providerName, latency, tokens, g.now(), err != nil)
	if g.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = domain.Kind(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	if errors.Is(err, domain.ErrCircuitOpen) {
		g.metrics.BreakerRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", providerName)))
	}
	g.metrics.GatewayCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerName), attribute.String("outcome", outcome)))
	if latency > 0 {
		g.metrics.CallLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("provider", providerName)))
	}
}

// Health checks every provider concurrently. Results are sorted by provider name.
func (g *Gateway) Health(ctx context.Context) []ProviderHealth {
	names := make([]string, 0, len(g.slots))
	for name := range g.slots {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProviderHealth, len(names))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, name := range names {
		s := g.slots[name]
		eg.Go(func() error {
			h := ProviderHealth{
				Provider: name,
				Healthy:  true,
				Breaker:  s.breaker.State(),
				PoolSize: s.pool.Size(),
				InFlight: s.pool.InFlight(),
			}
			if err := s.provider.Health(egCtx); err != nil {
				h.Healthy = false
				h.Error = err.Error()
			}
			out[i] = h
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// retryable reports whether a failed attempt may be repeated against the
// same provider.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrCircuitOpen),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, context.Canceled):
		return false
	}
	var se *provider.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
