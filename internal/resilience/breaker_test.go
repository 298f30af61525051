package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("service unavailable")

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errTest })
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open circuit must not call fn")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestHalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errTest })
	}
	now = now.Add(2 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// A second caller during the trial is rejected without running fn.
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("expected second call rejected during trial, got %v (called=%v)", err, called)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errTest })
	}
	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errTest })

	b.mu.Lock()
	if b.state != StateOpen {
		t.Fatalf("expected state open after half-open failure, got %s", b.state)
	}
	b.mu.Unlock()

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestFailureFilterIgnoresCancellation(t *testing.T) {
	b := NewBreaker(1, time.Second)
	b.SetFailureFilter(func(err error) bool { return !errors.Is(err, context.Canceled) })

	_ = b.Execute(func() error { return context.Canceled })
	if b.State() != StateClosed {
		t.Fatalf("cancellation must not trip the breaker, got %s", b.State())
	}

	_ = b.Execute(func() error { return errTest })
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestIgnoredErrorReleasesTrial(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }
	b.SetFailureFilter(func(err error) bool { return !errors.Is(err, context.Canceled) })

	_ = b.Execute(func() error { return errTest })
	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return context.Canceled })
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected a fresh trial, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestOnStateChange(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	var seen []State
	b.OnStateChange(func(_, to State) { seen = append(seen, to) })

	_ = b.Execute(func() error { return errTest })
	now = now.Add(2 * time.Second)
	_ = b.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}
