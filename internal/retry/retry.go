// Package retry wraps flaky upstream calls with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second

	// jitterCeiling bounds the random noise added to every delay so that
	// concurrently retrying callers do not synchronize into a retry storm.
	jitterCeiling = time.Second
)

// Executor retries an operation while its error is classified retryable.
// Unknown errors are fatal: retrying a bug masks it.
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New builds an executor. A nil retryable classifier treats every error as
// fatal.
func New(maxAttempts int, baseDelay, maxDelay time.Duration, retryable func(error) bool) *Executor {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Executor{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Retryable:   retryable,
		sleep:       sleepCtx,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(jitterCeiling)))
		},
	}
}

// Do runs op until it succeeds, fails fatally, or exhausts MaxAttempts. The
// last error is returned unwrapped so callers can classify it themselves.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !e.Retryable(last) || attempt == e.MaxAttempts {
			return last
		}
		if err := e.sleep(ctx, e.delay(attempt)); err != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}
	}
	return last
}

// delay for attempt n is min(base * 2^(n-1), max) plus jitter.
func (e *Executor) delay(attempt int) time.Duration {
	d := e.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.MaxDelay {
			d = e.MaxDelay
			break
		}
	}
	if d > e.MaxDelay {
		d = e.MaxDelay
	}
	return d + e.jitter()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
