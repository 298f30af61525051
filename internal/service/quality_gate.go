package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/argus/internal/config"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/domain/consensus"
	"github.com/Strob0t/argus/internal/domain/gate"
	"github.com/Strob0t/argus/internal/secrets"
)

// Artifacts is what a phase hands to the gate engine.
type Artifacts struct {
	Phase     string
	Responses []*agent.Response
	Consensus *consensus.Result
}

// Check scores one gate over phase artifacts in [0, 1]. A returned error is
// a hard failure of the gate, distinct from a low score.
type Check func(ctx context.Context, a *Artifacts) (float64, error)

var (
	errNoResponses = errors.New("no responses to check")
	errNoConsensus = errors.New("no consensus result")
)

var (
	structureRe = regexp.MustCompile("(?m)^\\s*(?:[-*]|\\d+[.)]|#{1,6})\\s+\\S|^```")
	secretRes   = []*regexp.Regexp{
		regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
		regexp.MustCompile(`\bsk-(?:ant-|proj-)?[A-Za-z0-9_-]{20,}`),
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}`),
		regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}`),
		regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
		regexp.MustCompile(`(?i)(?:password|passwd|secret|api[_-]?key|token)\s*[:=]\s*["'][^"'\s]{8,}["']`),
	}
)

// QualityGateEngine runs the gates a phase names and blends their scores.
// Gate configuration comes from config; checks are code registered by name.
type QualityGateEngine struct {
	mu          sync.RWMutex
	gates       map[string]gate.Config
	checks      map[string]Check
	failOnError bool
	timeout     time.Duration
}

// NewQualityGateEngine creates an engine with the built-in checks registered.
// vault may be nil; when set, secret_scan also reports verbatim leaks of its values.
func NewQualityGateEngine(cfg config.QualityGates, vault *secrets.Vault) *QualityGateEngine {
	e := &QualityGateEngine{
		gates:       cfg.GateConfigs(),
		checks:      make(map[string]Check),
		failOnError: cfg.FailOnError,
		timeout:     cfg.Timeout,
	}
	e.Register("non_empty", checkNonEmpty)
	e.Register("consensus", checkConsensus)
	e.Register("response_structure", checkStructure)
	e.Register("secret_scan", secretScan(vault))
	e.Register("latency_budget", latencyBudget(cfg.LatencyBudget))
	e.Register("token_budget", tokenBudget(cfg.TokenBudget))
	return e
}

// Register adds or replaces the check for a gate name. A check without a
// configured gate runs enabled with weight 1 and threshold 0.5.
func (e *QualityGateEngine) Register(name string, check Check) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks[name] = check
}

// HasGate reports whether name is configured or has a registered check.
func (e *QualityGateEngine) HasGate(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, configured := e.gates[name]
	_, registered := e.checks[name]
	return configured || registered
}

// Gates returns every known gate configuration sorted by name.
func (e *QualityGateEngine) Gates() []gate.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]gate.Config, 0, len(e.gates))
	for _, g := range e.gates {
		out = append(out, g)
	}
	for name := range e.checks {
		if _, ok := e.gates[name]; !ok {
			out = append(out, defaultGate(name))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes the named gates concurrently and blends the enabled ones
// against threshold. Gates share nothing mutable; each writes only its own
// outcome slot.
func (e *QualityGateEngine) Run(ctx context.Context, names []string, threshold float64, a *Artifacts) *gate.Result {
	type job struct {
		cfg   gate.Config
		check Check
	}

	e.mu.RLock()
	jobs := make([]job, 0, len(names))
	for _, name := range names {
		cfg, ok := e.gates[name]
		if !ok {
			cfg = defaultGate(name)
		}
		if !cfg.Enabled {
			continue
		}
		jobs = append(jobs, job{cfg: cfg, check: e.checks[name]})
	}
	e.mu.RUnlock()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	outcomes := make([]gate.Outcome, len(jobs))
	var eg errgroup.Group
	for i, j := range jobs {
		eg.Go(func() error {
			outcomes[i] = runGate(ctx, j.cfg, j.check, a)
			return nil
		})
	}
	_ = eg.Wait()

	res := gate.Blend(outcomes, threshold, e.failOnError)
	slog.Debug("quality gates evaluated", "phase", a.Phase, "score", res.Score, "passed", res.Passed, "gates", len(outcomes))
	return res
}

func runGate(ctx context.Context, cfg gate.Config, check Check, a *Artifacts) (out gate.Outcome) {
	out = gate.Outcome{Name: cfg.Name, Weight: cfg.Weight, Threshold: cfg.Threshold}

	defer func() {
		if r := recover(); r != nil {
			out.Score, out.Passed, out.HardFailed = 0, false, true
			out.Error = fmt.Sprintf("check panicked: %v", r)
			slog.Error("quality gate panicked", "gate", cfg.Name, "phase", a.Phase, "panic", r)
		}
	}()

	if check == nil {
		out.HardFailed = true
		out.Error = "no check registered"
		return out
	}
	score, err := check(ctx, a)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		out.HardFailed = true
		out.Error = err.Error()
		slog.Warn("quality gate errored", "gate", cfg.Name, "phase", a.Phase, "error", err)
		return out
	}
	out.Score = clampScore(score)
	out.Passed = out.Score >= cfg.Threshold
	return out
}

func defaultGate(name string) gate.Config {
	return gate.Config{Name: name, Enabled: true, Threshold: 0.5, Weight: 1}
}

func clampScore(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// fraction returns the share of responses satisfying ok.
func fraction(a *Artifacts, ok func(*agent.Response) bool) (float64, error) {
	if len(a.Responses) == 0 {
		return 0, errNoResponses
	}
	n := 0
	for _, r := range a.Responses {
		if ok(r) {
			n++
		}
	}
	return float64(n) / float64(len(a.Responses)), nil
}

func checkNonEmpty(_ context.Context, a *Artifacts) (float64, error) {
	return fraction(a, func(r *agent.Response) bool { return strings.TrimSpace(r.Content) != "" })
}

func checkConsensus(_ context.Context, a *Artifacts) (float64, error) {
	if a.Consensus == nil {
		return 0, errNoConsensus
	}
	return a.Consensus.Score, nil
}

func checkStructure(_ context.Context, a *Artifacts) (float64, error) {
	return fraction(a, func(r *agent.Response) bool { return structureRe.MatchString(r.Content) })
}

func secretScan(vault *secrets.Vault) Check {
	return func(_ context.Context, a *Artifacts) (float64, error) {
		for _, r := range a.Responses {
			for _, re := range secretRes {
				if re.MatchString(r.Content) {
					slog.Warn("secret pattern in agent response", "agent", r.AgentName, "phase", a.Phase, "pattern", re.String())
					return 0, nil
				}
			}
			if vault != nil {
				if leaked := vault.Leaked(r.Content); len(leaked) > 0 {
					slog.Warn("configured secret leaked in agent response", "agent", r.AgentName, "phase", a.Phase, "secrets", leaked)
					return 0, nil
				}
			}
		}
		return 1, nil
	}
}

// latencyBudget scores the share of live (non-cached) calls within budget.
func latencyBudget(budget time.Duration) Check {
	return func(_ context.Context, a *Artifacts) (float64, error) {
		if budget <= 0 {
			return 1, nil
		}
		return fraction(a, func(r *agent.Response) bool { return r.FromCache || r.Latency <= budget })
	}
}

// tokenBudget scores phase token usage: 1 within budget, decaying
// proportionally beyond it.
func tokenBudget(budget int) Check {
	return func(_ context.Context, a *Artifacts) (float64, error) {
		if budget <= 0 {
			return 1, nil
		}
		total := 0
		for _, r := range a.Responses {
			if !r.FromCache {
				total += r.Usage.Total()
			}
		}
		if total <= budget {
			return 1, nil
		}
		return float64(budget) / float64(total), nil
	}
}
