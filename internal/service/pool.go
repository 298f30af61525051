package service

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent connections to one provider using a weighted
// semaphore. Every gateway call to the provider runs through its Pool.
type Pool struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

// NewPool creates a Pool that allows at most size concurrent calls.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()
	return fn()
}

// Size returns the maximum number of concurrent calls.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of calls currently holding a slot.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }
