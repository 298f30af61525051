package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays with proportional jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, in [0, 1]
	rand   func() float64
}

// Delay returns the wait before the given retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 || b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		// Spread uniformly over [d·(1-j), d·(1+j)].
		d = time.Duration(float64(d) * (1 + b.Jitter*(2*r()-1)))
	}
	return d
}

// Policy bounds how often an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	Backoff    Backoff
	// Retryable reports whether an error may be retried. Nil retries everything.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, the retry
// budget is spent, or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var err error
	attempt := 0
	for {
		attempt++
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt > p.MaxRetries {
			return attempt, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if ctxErr := Sleep(ctx, p.Backoff.Delay(attempt)); ctxErr != nil {
			return attempt, err
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
