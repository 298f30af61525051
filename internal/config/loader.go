package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "argus.yaml"

// providerKeyEnv maps provider names to the environment variable carrying their API key.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"litellm":   "LITELLM_MASTER_KEY",
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("ARGUS_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ARGUS_PORT")
	setString(&cfg.Server.CORSOrigin, "ARGUS_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimitRPS, "ARGUS_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "ARGUS_RATE_LIMIT_BURST")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.EventsSubject, "ARGUS_NATS_EVENTS_SUBJECT")
	setString(&cfg.NATS.CacheBucket, "ARGUS_NATS_CACHE_BUCKET")
	setString(&cfg.Logging.Level, "ARGUS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ARGUS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ARGUS_LOG_ASYNC")
	setBool(&cfg.OTel.Enabled, "ARGUS_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "ARGUS_OTEL_INSECURE")
	setFloat64(&cfg.OTel.SampleRate, "ARGUS_OTEL_SAMPLE_RATE")
	setInt(&cfg.Breaker.MaxFailures, "ARGUS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ARGUS_BREAKER_TIMEOUT")

	// Retry
	setInt(&cfg.Retry.MaxRetries, "ARGUS_RETRY_MAX")
	setDuration(&cfg.Retry.BaseDelay, "ARGUS_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "ARGUS_RETRY_MAX_DELAY")
	setFloat64(&cfg.Retry.Jitter, "ARGUS_RETRY_JITTER")

	// Cache
	setBool(&cfg.Cache.Enabled, "ARGUS_CACHE_ENABLED")
	setDuration(&cfg.Cache.TTL, "ARGUS_CACHE_TTL")
	setInt(&cfg.Cache.MaxEntries, "ARGUS_CACHE_MAX_ENTRIES")
	setDuration(&cfg.Cache.HalfLife, "ARGUS_CACHE_HALF_LIFE")
	setFloat64(&cfg.Cache.MinRelevance, "ARGUS_CACHE_MIN_RELEVANCE")
	setString(&cfg.Cache.Backend, "ARGUS_CACHE_BACKEND")
	setInt64(&cfg.Cache.L1MaxSizeMB, "ARGUS_CACHE_L1_SIZE_MB")

	// Consensus
	setFloat64(&cfg.Consensus.DisagreementMargin, "ARGUS_CONSENSUS_MARGIN")

	// Orchestrator
	setDuration(&cfg.Orchestrator.PhaseBackoff, "ARGUS_ORCH_PHASE_BACKOFF")
	setInt(&cfg.Orchestrator.EventBuffer, "ARGUS_ORCH_EVENT_BUFFER")
	setInt(&cfg.Orchestrator.MaxSessions, "ARGUS_ORCH_MAX_SESSIONS")
	setInt(&cfg.Orchestrator.MaxQueued, "ARGUS_ORCH_MAX_QUEUED")
	setDuration(&cfg.Orchestrator.SessionRetention, "ARGUS_ORCH_SESSION_RETENTION")
	setInt(&cfg.Orchestrator.RetainedSessions, "ARGUS_ORCH_RETAINED_SESSIONS")

	// Quality gates
	setBool(&cfg.QualityGates.FailOnError, "ARGUS_QG_FAIL_ON_ERROR")
	setDuration(&cfg.QualityGates.Timeout, "ARGUS_QG_TIMEOUT")
	setDuration(&cfg.QualityGates.LatencyBudget, "ARGUS_QG_LATENCY_BUDGET")
	setInt(&cfg.QualityGates.TokenBudget, "ARGUS_QG_TOKEN_BUDGET")

	// Provider API keys
	for name, p := range cfg.Providers {
		if key, ok := providerKeyEnv[name]; ok {
			setString(&p.APIKey, key)
		}
		setString(&p.BaseURL, "ARGUS_PROVIDER_"+envName(name)+"_URL")
		cfg.Providers[name] = p
	}
}

// envName upper-cases a provider name for use in an environment variable.
func envName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c == '-' || c == '.':
			b[i] = '_'
		}
	}
	return string(b)
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be within [0, 1]")
	}
	if cfg.Cache.Enabled && cfg.Cache.MaxEntries < 1 {
		return errors.New("cache.max_entries must be >= 1")
	}
	if cfg.Cache.Enabled && cfg.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be > 0")
	}
	switch cfg.Cache.Backend {
	case "", "ristretto":
	case "natskv", "tiered":
		if cfg.NATS.URL == "" {
			return fmt.Errorf("cache.backend %s requires nats.url", cfg.Cache.Backend)
		}
	default:
		return fmt.Errorf("cache.backend %q is unknown", cfg.Cache.Backend)
	}
	if cfg.Consensus.DisagreementMargin < 0 || cfg.Consensus.DisagreementMargin > 1 {
		return errors.New("consensus.disagreement_margin must be within [0, 1]")
	}
	if cfg.Orchestrator.EventBuffer < 1 {
		return errors.New("orchestrator.event_buffer must be >= 1")
	}
	if cfg.Orchestrator.MaxSessions < 0 || cfg.Orchestrator.MaxQueued < 0 || cfg.Orchestrator.RetainedSessions < 0 {
		return errors.New("orchestrator session limits must be >= 0")
	}
	for name, g := range cfg.QualityGates.GateConfigs() {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("quality_gates.%s: %w", name, err)
		}
	}
	for name, p := range cfg.Providers {
		switch p.Kind {
		case "anthropic", "gemini", "litellm":
		default:
			return fmt.Errorf("providers.%s: kind %q is unknown", name, p.Kind)
		}
		if p.PoolSize < 1 {
			return fmt.Errorf("providers.%s: pool_size must be >= 1", name)
		}
		if p.RequestsPerSecond <= 0 || p.Burst < 1 {
			return fmt.Errorf("providers.%s: requests_per_second must be > 0 and burst >= 1", name)
		}
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent %s", i, a.Name)
		}
		seen[a.Name] = true
		if _, ok := cfg.Providers[a.Provider]; !ok {
			return fmt.Errorf("agents[%d]: agent %s uses unknown provider %s", i, a.Name, a.Provider)
		}
	}
	for _, a := range cfg.Agents {
		if a.Alternate != "" && !seen[a.Alternate] {
			return fmt.Errorf("agent %s: alternate %s is not configured", a.Name, a.Alternate)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
