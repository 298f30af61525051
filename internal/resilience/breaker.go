// Package resilience provides reliability patterns for provider calls.
package resilience

import (
	"sync"
	"time"

	"github.com/Strob0t/argus/internal/domain"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = domain.ErrCircuitOpen

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker implements a circuit breaker for one provider. It tracks consecutive
// failures and opens after maxFailures, rejecting calls until the cool-down
// elapses. It then admits exactly one trial call; the trial's outcome closes
// or re-opens the circuit.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	trial       bool // a half-open trial call is in flight
	isFailure   func(error) bool
	onChange    func(from, to State)
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before admitting a trial call.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		timeout:     timeout,
		isFailure:   func(err error) bool { return err != nil },
		now:         time.Now,
	}
}

// SetFailureFilter decides which errors count against the circuit. Errors
// the filter rejects (e.g. caller cancellation) leave the failure count alone.
func (b *Breaker) SetFailureFilter(fn func(error) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isFailure = func(err error) bool { return err != nil && fn(err) }
}

// OnStateChange registers a callback invoked (under the breaker lock) on every transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// State returns the current state, promoting open to half-open once the cool-down elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn if the circuit admits the call.
// Returns ErrCircuitOpen without calling fn otherwise.
func (b *Breaker) Execute(fn func() error) error {
	trial, ok := b.allowRequest()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trial = false
	}
	switch {
	case err == nil:
		b.onSuccess()
	case b.isFailure(err):
		b.onFailure()
	}
	return err
}

func (b *Breaker) allowRequest() (trial, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false, false
		}
		b.transition(StateHalfOpen)
		b.trial = true
		return true, true
	case StateHalfOpen:
		if b.trial {
			return false, false
		}
		b.trial = true
		return true, true
	}
	return false, false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.transition(StateClosed)
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
