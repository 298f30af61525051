// Package orchestration defines orchestration requests, the phase state
// machine and orchestration results.
package orchestration

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/Strob0t/argus/internal/domain"
)

// PhaseType names the stage a phase represents. Custom types are allowed.
type PhaseType string

const (
	PhasePlan     PhaseType = "plan"
	PhaseExecute  PhaseType = "execute"
	PhaseValidate PhaseType = "validate"
)

// Defaults taken when a request leaves a value unset.
const (
	DefaultPhaseTimeout       = 300 * time.Second
	DefaultGateThreshold      = 0.8
	DefaultConsensusThreshold = 0.75
	DefaultMaxRetries         = 3
	DefaultTimeoutSeconds     = 3600
)

var (
	ErrProjectRequired    = errors.New("project_name is required")
	ErrNoPhases           = errors.New("at least one phase is required")
	ErrInvalidThreshold   = errors.New("threshold must be within [0, 1]")
	ErrNegativeRetries    = errors.New("max_retries must be >= 0")
	ErrInvalidTimeout     = errors.New("timeout_seconds must be > 0")
	ErrPhaseNameRequired  = errors.New("phase name is required")
	ErrDuplicatePhase     = errors.New("duplicate phase name")
	ErrPhaseTypeRequired  = errors.New("phase type is required")
	ErrNoRequiredAgents   = errors.New("required_agents is empty")
	ErrDuplicateAgent     = errors.New("agent listed more than once")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrUnknownGate        = errors.New("unknown quality gate")
	ErrNegativePhaseLimit = errors.New("phase timeout and retries must be >= 0")
)

// Catalog answers which agent and gate names are known to the running core.
type Catalog interface {
	HasAgent(name string) bool
	HasGate(name string) bool
}

// Request is the input of one orchestration. The orchestrator clones it when
// the run starts, so later mutation by the caller has no effect.
type Request struct {
	ProjectName        string            `json:"project_name"`
	Prompt             string            `json:"prompt"`
	Context            map[string]string `json:"context,omitempty"`
	Phases             []PhaseConfig     `json:"phases"`
	ConsensusThreshold float64           `json:"consensus_threshold"`
	MaxRetries         int               `json:"max_retries"`
	TimeoutSeconds     int               `json:"timeout_seconds"`
}

// PhaseConfig configures one phase.
type PhaseConfig struct {
	Name           string    `json:"name"`
	Type           PhaseType `json:"type"`
	RequiredAgents []string  `json:"required_agents"`
	Parallel       bool      `json:"parallel"`
	QualityGates   []string  `json:"quality_gates,omitempty"`
	// Timeout is the per-attempt timeout in seconds; 0 means DefaultPhaseTimeout.
	Timeout int `json:"timeout"`
	// ConsensusThreshold overrides the request-wide threshold when set.
	ConsensusThreshold *float64 `json:"consensus_threshold,omitempty"`
	// MaxRetries overrides the request-wide retry budget when set.
	MaxRetries *int `json:"max_retries,omitempty"`
	// GateThreshold is the blended gate score required to pass; 0 means DefaultGateThreshold.
	GateThreshold float64 `json:"gate_threshold,omitempty"`
}

// DefaultRequest returns a request carrying the default threshold, retry
// budget and overall timeout. Decoders fill it in over these values.
func DefaultRequest() Request {
	return Request{
		ConsensusThreshold: DefaultConsensusThreshold,
		MaxRetries:         DefaultMaxRetries,
		TimeoutSeconds:     DefaultTimeoutSeconds,
	}
}

// Deadline returns the overall timeout as a duration.
func (r *Request) Deadline() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (p *PhaseConfig) AttemptTimeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultPhaseTimeout
	}
	return time.Duration(p.Timeout) * time.Second
}

// Threshold returns the consensus threshold in force for the phase.
func (p *PhaseConfig) Threshold(global float64) float64 {
	if p.ConsensusThreshold != nil {
		return *p.ConsensusThreshold
	}
	return global
}

// Retries returns the phase-level retry budget.
func (p *PhaseConfig) Retries(global int) int {
	if p.MaxRetries != nil {
		return *p.MaxRetries
	}
	return global
}

// BlendThreshold returns the blended gate threshold in force for the phase.
func (p *PhaseConfig) BlendThreshold() float64 {
	if p.GateThreshold <= 0 {
		return DefaultGateThreshold
	}
	return p.GateThreshold
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Context = maps.Clone(r.Context)
	cp.Phases = make([]PhaseConfig, len(r.Phases))
	for i, p := range r.Phases {
		p.RequiredAgents = slices.Clone(p.RequiredAgents)
		p.QualityGates = slices.Clone(p.QualityGates)
		if p.ConsensusThreshold != nil {
			v := *p.ConsensusThreshold
			p.ConsensusThreshold = &v
		}
		if p.MaxRetries != nil {
			v := *p.MaxRetries
			p.MaxRetries = &v
		}
		cp.Phases[i] = p
	}
	return &cp
}

// Validate checks the request against the catalog. Every violation is a
// configuration error, reported before any network activity.
func (r *Request) Validate(cat Catalog) error {
	if err := r.validate(cat); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return nil
}

func (r *Request) validate(cat Catalog) error {
	if r.ProjectName == "" {
		return ErrProjectRequired
	}
	if r.ConsensusThreshold < 0 || r.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold: %w", ErrInvalidThreshold)
	}
	if r.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	if r.TimeoutSeconds <= 0 {
		return ErrInvalidTimeout
	}
	if len(r.Phases) == 0 {
		return ErrNoPhases
	}

	seen := make(map[string]bool, len(r.Phases))
	for i := range r.Phases {
		p := &r.Phases[i]
		if err := p.validate(cat); err != nil {
			return fmt.Errorf("phase %d (%s): %w", i, p.Name, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("phase %d (%s): %w", i, p.Name, ErrDuplicatePhase)
		}
		seen[p.Name] = true
	}
	return nil
}

func (p *PhaseConfig) validate(cat Catalog) error {
	if p.Name == "" {
		return ErrPhaseNameRequired
	}
	if p.Type == "" {
		return ErrPhaseTypeRequired
	}
	if len(p.RequiredAgents) == 0 {
		return ErrNoRequiredAgents
	}
	if p.Timeout < 0 || (p.MaxRetries != nil && *p.MaxRetries < 0) {
		return ErrNegativePhaseLimit
	}
	if p.ConsensusThreshold != nil && (*p.ConsensusThreshold < 0 || *p.ConsensusThreshold > 1) {
		return fmt.Errorf("consensus_threshold: %w", ErrInvalidThreshold)
	}
	if p.GateThreshold < 0 || p.GateThreshold > 1 {
		return fmt.Errorf("gate_threshold: %w", ErrInvalidThreshold)
	}

	agents := make(map[string]bool, len(p.RequiredAgents))
	for _, name := range p.RequiredAgents {
		if agents[name] {
			return fmt.Errorf("%s: %w", name, ErrDuplicateAgent)
		}
		agents[name] = true
		if cat != nil && !cat.HasAgent(name) {
			return fmt.Errorf("%s: %w", name, ErrUnknownAgent)
		}
	}
	for _, g := range p.QualityGates {
		if cat != nil && !cat.HasGate(g) {
			return fmt.Errorf("%s: %w", g, ErrUnknownGate)
		}
	}
	return nil
}
