// Package config provides hierarchical configuration loading for ARGUS.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"time"

	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/domain/gate"
)

// Config holds all runtime configuration for the ARGUS service.
type Config struct {
	Server       Server              `yaml:"server"`
	NATS         NATS                `yaml:"nats"`
	Logging      Logging             `yaml:"logging"`
	OTel         OTel                `yaml:"otel"`
	Breaker      Breaker             `yaml:"breaker"`
	Retry        Retry               `yaml:"retry"`
	Cache        Cache               `yaml:"cache"`
	Consensus    Consensus           `yaml:"consensus"`
	Orchestrator Orchestrator        `yaml:"orchestrator"`
	QualityGates QualityGates        `yaml:"quality_gates"`
	Providers    map[string]Provider `yaml:"providers"`
	Agents       []agent.Config      `yaml:"agents"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// Per-client limit on the API; zero disables it.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// NATS holds NATS JetStream configuration. An empty URL disables both the
// event publisher and the KV cache tier.
type NATS struct {
	URL           string `yaml:"url"`
	EventsSubject string `yaml:"events_subject"`
	CacheBucket   string `yaml:"cache_bucket"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// OTel holds OpenTelemetry exporter configuration.
type OTel struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Breaker holds per-provider circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Retry holds gateway retry configuration.
type Retry struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`
}

// Cache holds response cache configuration.
type Cache struct {
	Enabled      bool          `yaml:"enabled"`
	TTL          time.Duration `yaml:"ttl"`
	MaxEntries   int           `yaml:"max_entries"`
	HalfLife     time.Duration `yaml:"half_life"`
	MinRelevance float64       `yaml:"min_relevance"`
	// Backend selects the shared store behind the in-process index:
	// "" (none), "ristretto", "natskv" or "tiered".
	Backend     string `yaml:"backend"`
	L1MaxSizeMB int64  `yaml:"l1_max_size_mb"`
}

// Consensus holds consensus aggregator configuration.
type Consensus struct {
	DisagreementMargin float64 `yaml:"disagreement_margin"`
}

// Orchestrator holds phase orchestration configuration.
type Orchestrator struct {
	PhaseBackoff time.Duration `yaml:"phase_backoff"` // base delay before a phase retry
	EventBuffer  int           `yaml:"event_buffer"`  // async event queue capacity
	MaxSessions  int           `yaml:"max_sessions"`  // orchestrations running at once; 0 is unbounded
	MaxQueued    int           `yaml:"max_queued"`    // sessions waiting for a slot; 0 is unbounded

	SessionRetention time.Duration `yaml:"session_retention"` // how long finished sessions stay queryable
	RetainedSessions int           `yaml:"retained_sessions"` // cap on finished sessions kept
}

// QualityGates holds the gate table and engine-wide options.
type QualityGates struct {
	FailOnError   bool                   `yaml:"fail_on_error"`
	Timeout       time.Duration          `yaml:"timeout"`
	LatencyBudget time.Duration          `yaml:"latency_budget"`
	TokenBudget   int                    `yaml:"token_budget"`
	Gates         map[string]gate.Config `yaml:"gates"`
}

// Provider holds connection settings for one reasoning provider.
type Provider struct {
	Kind              string        `yaml:"kind"` // anthropic, gemini, litellm
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	PoolSize          int           `yaml:"pool_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxWait           time.Duration `yaml:"max_wait"`
}

// GateConfigs returns the gate table with each entry's Name populated.
func (q *QualityGates) GateConfigs() map[string]gate.Config {
	out := make(map[string]gate.Config, len(q.Gates))
	for name, g := range q.Gates {
		g.Name = name
		out[name] = g
	}
	return out
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			CORSOrigin:     "http://localhost:3000",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		NATS: NATS{
			EventsSubject: "argus.events",
			CacheBucket:   "ARGUS_RESPONSES",
		},
		Logging: Logging{
			Level:   "info",
			Service: "argus",
		},
		OTel: OTel{
			Endpoint:    "localhost:4317",
			ServiceName: "argus",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Retry: Retry{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Jitter:     0.2,
		},
		Cache: Cache{
			Enabled:      true,
			TTL:          time.Hour,
			MaxEntries:   1000,
			HalfLife:     30 * time.Minute,
			MinRelevance: 0.1,
			L1MaxSizeMB:  64,
		},
		Consensus: Consensus{
			DisagreementMargin: 0.3,
		},
		Orchestrator: Orchestrator{
			PhaseBackoff: time.Second,
			EventBuffer:  1024,
			MaxSessions:  32,
			MaxQueued:    256,

			SessionRetention: time.Hour,
			RetainedSessions: 1000,
		},
		QualityGates: QualityGates{
			FailOnError:   true,
			Timeout:       30 * time.Second,
			LatencyBudget: 60 * time.Second,
			TokenBudget:   16000,
			Gates: map[string]gate.Config{
				"non_empty":          {Description: "every agent produced content", Enabled: true, Threshold: 1.0, Weight: 1.0},
				"consensus":          {Description: "phase consensus score", Enabled: true, Threshold: 0.75, Weight: 2.0},
				"response_structure": {Description: "responses carry headings, lists or code", Enabled: true, Threshold: 0.5, Weight: 1.0},
				"secret_scan":        {Description: "no credentials leaked in responses", Enabled: true, Threshold: 1.0, Weight: 1.5},
				"latency_budget":     {Description: "agent latency within budget", Enabled: true, Threshold: 0.5, Weight: 0.5},
				"token_budget":       {Description: "token usage within budget", Enabled: true, Threshold: 0.5, Weight: 0.5},
			},
		},
		Providers: map[string]Provider{
			"anthropic": {Kind: "anthropic", BaseURL: "https://api.anthropic.com", PoolSize: 4, RequestsPerSecond: 2, Burst: 4, MaxWait: 30 * time.Second},
			"openai":    {Kind: "litellm", BaseURL: "https://api.openai.com/v1", PoolSize: 4, RequestsPerSecond: 2, Burst: 4, MaxWait: 30 * time.Second},
			"gemini":    {Kind: "gemini", BaseURL: "https://generativelanguage.googleapis.com", PoolSize: 4, RequestsPerSecond: 2, Burst: 4, MaxWait: 30 * time.Second},
			"local":     {Kind: "litellm", BaseURL: "http://localhost:11434/v1", PoolSize: 2, RequestsPerSecond: 10, Burst: 10, MaxWait: 30 * time.Second},
		},
	}
}
