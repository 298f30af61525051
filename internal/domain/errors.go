// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is in a state that does not allow the operation.
var ErrConflict = errors.New("conflict")

// Error kinds surfaced by the orchestration core. Match them with errors.Is.
var (
	// ErrProviderTimeout indicates a provider call exceeded its deadline.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderRejected indicates the provider (or the local rate limiter) refused the call:
	// auth failures, rate limits, 5xx responses.
	ErrProviderRejected = errors.New("provider rejected")
	// ErrCircuitOpen indicates the provider's circuit breaker rejected the call without a network attempt.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrConsensusNotReached indicates the aggregate score stayed below the threshold.
	ErrConsensusNotReached = errors.New("consensus not reached")
	// ErrQualityGateFailed indicates the blended gate score or a hard-failing gate blocked the phase.
	ErrQualityGateFailed = errors.New("quality gate failed")
	// ErrConfiguration indicates an invalid request or configuration, detected before any network activity.
	ErrConfiguration = errors.New("configuration error")
	// ErrCacheUnavailable indicates the response cache backend could not be reached.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// Kind returns the name of the error kind err belongs to, or "" if none matches.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrProviderTimeout):
		return "provider_timeout"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrConsensusNotReached):
		return "consensus_not_reached"
	case errors.Is(err, ErrQualityGateFailed):
		return "quality_gate_failed"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrCacheUnavailable):
		return "cache_unavailable"
	}
	return ""
}

// OpError records where an error happened: the phase, the agent (if any) and
// how many attempts had been made. It unwraps to the underlying error so the
// kind sentinels still match.
type OpError struct {
	Phase   string
	Agent   string
	Attempt int
	Err     error
}

func (e *OpError) Error() string {
	var b strings.Builder
	if e.Phase != "" {
		fmt.Fprintf(&b, "phase %s", e.Phase)
	}
	if e.Agent != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "agent %s", e.Agent)
	}
	if e.Attempt > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "attempt %d", e.Attempt)
	}
	if b.Len() == 0 {
		return e.Err.Error()
	}
	return b.String() + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// Configf builds a configuration error with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
