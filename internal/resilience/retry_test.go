package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffExponentialCapped(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.retry); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.retry, got, tt.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	lo := Backoff{Base: time.Second, Jitter: 0.5, rand: func() float64 { return 0 }}
	hi := Backoff{Base: time.Second, Jitter: 0.5, rand: func() float64 { return 1 }}
	if got := lo.Delay(1); got != 500*time.Millisecond {
		t.Fatalf("expected lower bound 500ms, got %s", got)
	}
	if got := hi.Delay(1); got != 1500*time.Millisecond {
		t.Fatalf("expected upper bound 1.5s, got %s", got)
	}
}

func TestPolicyRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxRetries: 3}
	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errTest
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("expected success on attempt 3, got %d %v", attempts, err)
	}
}

func TestPolicyExhaustsBudget(t *testing.T) {
	p := Policy{MaxRetries: 2}
	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return errTest })
	if !errors.Is(err, errTest) || attempts != 3 {
		t.Fatalf("expected 3 attempts and errTest, got %d %v", attempts, err)
	}
}

func TestPolicyStopsOnNonRetryable(t *testing.T) {
	p := Policy{MaxRetries: 5, Retryable: func(err error) bool { return !errors.Is(err, ErrCircuitOpen) }}
	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return ErrCircuitOpen })
	if !errors.Is(err, ErrCircuitOpen) || attempts != 1 {
		t.Fatalf("expected immediate stop, got %d %v", attempts, err)
	}
}

func TestPolicyStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, Backoff: Backoff{Base: time.Hour}}
	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errTest
	})
	if !errors.Is(err, errTest) || attempts != 1 {
		t.Fatalf("expected last error after cancellation, got %d %v", attempts, err)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
