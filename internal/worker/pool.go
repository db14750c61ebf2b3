// Package worker runs tool invocations off the dispatcher goroutine with a
// bound on concurrency and an optional call rate.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/sammcj/mcp-filesystem/internal/metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// PanicError reports a panic recovered from a pooled function.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

// Pool bounds concurrently running invocations. The zero value is not usable;
// construct with New.
type Pool struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	size    int
}

// DefaultSize is the pool size used when none is configured.
func DefaultSize() int {
	return 4 * runtime.GOMAXPROCS(0)
}

// New creates a pool running at most size invocations at once. A positive
// ratePerSecond additionally throttles how often invocations may start.
func New(size int, ratePerSecond float64) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
	if ratePerSecond > 0 {
		burst := max(int(ratePerSecond), 1)
		p.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return p
}

// Size returns the maximum number of concurrent invocations.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn on its own goroutine once a slot is free. Waiting for a slot
// honours ctx; once fn starts it runs to completion even if ctx is cancelled,
// in which case Do returns ctx.Err() without waiting for it. A panic in fn is
// returned as a *PanicError.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	metrics.WorkerStarted()
	go func() {
		defer p.sem.Release(1)
		defer metrics.WorkerFinished()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		val, err := fn()
		done <- result{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
