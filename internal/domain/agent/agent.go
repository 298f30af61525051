// Package agent defines agent bindings to reasoning providers and the
// immutable responses they produce.
package agent

import (
	"errors"
	"fmt"
	"time"
)

// Role is the function an agent plays in an orchestration.
type Role string

const (
	RoleLeadArchitect       Role = "lead_architect"
	RoleSecurityAnalyst     Role = "security_analyst"
	RoleCodeReviewer        Role = "code_reviewer"
	RolePerformanceEngineer Role = "performance_engineer"
)

// DefaultTimeout is applied when an agent declares no per-call timeout.
const DefaultTimeout = 30 * time.Second

var (
	ErrNameRequired       = errors.New("agent name is required")
	ErrProviderRequired   = errors.New("agent provider is required")
	ErrModelRequired      = errors.New("agent model is required")
	ErrInvalidTemperature = errors.New("temperature must be within [0, 2]")
	ErrInvalidMaxTokens   = errors.New("max_tokens must be >= 0")
	ErrInvalidTimeout     = errors.New("timeout must be >= 0")
	ErrSelfAlternate      = errors.New("alternate must name a different agent")
)

// Config binds an agent name to one provider/model for a given role.
type Config struct {
	Name        string  `json:"name" yaml:"name"`
	Role        Role    `json:"role" yaml:"role"`
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	// Timeout is the per-call timeout in seconds.
	Timeout int `json:"timeout" yaml:"timeout"`
	// Alternate names another agent to fail over to once this one fails permanently.
	Alternate string `json:"alternate,omitempty" yaml:"alternate,omitempty"`
}

// CallTimeout returns the per-call timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// Validate checks the agent configuration for structural correctness.
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.Provider == "" {
		return fmt.Errorf("agent %s: %w", c.Name, ErrProviderRequired)
	}
	if c.Model == "" {
		return fmt.Errorf("agent %s: %w", c.Name, ErrModelRequired)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("agent %s: %w", c.Name, ErrInvalidTemperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("agent %s: %w", c.Name, ErrInvalidMaxTokens)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("agent %s: %w", c.Name, ErrInvalidTimeout)
	}
	if c.Alternate == c.Name {
		return fmt.Errorf("agent %s: %w", c.Name, ErrSelfAlternate)
	}
	return nil
}

// Decision is a binary verdict an agent may embed in its response.
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Usage reports token consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is the result of one agent call. It is created once and never
// mutated afterwards; consumers hold pointers to share it.
type Response struct {
	AgentName string        `json:"agent_name"`
	ServedBy  string        `json:"served_by,omitempty"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Content   string        `json:"content"`
	Quality   float64       `json:"quality"`
	Decision  Decision      `json:"decision,omitempty"`
	Latency   time.Duration `json:"latency"`
	Usage     Usage         `json:"usage"`
	Truncated bool          `json:"truncated,omitempty"`
	FromCache bool          `json:"from_cache,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// WithCacheOrigin returns a copy of r marked as served from the cache for agentName.
func (r *Response) WithCacheOrigin(agentName string) *Response {
	cp := *r
	cp.AgentName = agentName
	cp.FromCache = true
	cp.Latency = 0
	return &cp
}
