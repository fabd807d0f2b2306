package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("upstream unavailable")

func silentExecutor(maxAttempts int, base, max time.Duration, retryable func(error) bool) (*Executor, *[]time.Duration) {
	e := New(maxAttempts, base, max, retryable)
	delays := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	e.jitter = func() time.Duration { return 0 }
	return e, delays
}

func TestRetryableErrorExhaustsAttempts(t *testing.T) {
	e, delays := silentExecutor(3, 100*time.Millisecond, time.Second, func(error) bool { return true })

	attempts := 0
	err := e.Do(context.Background(), func(context.Context) error {
		attempts++
		return errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("err = %v, want last error propagated", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if len(*delays) != 2 {
		t.Fatalf("sleeps = %d, want 2 (no sleep after final attempt)", len(*delays))
	}
}

func TestFatalErrorStopsImmediately(t *testing.T) {
	e, delays := silentExecutor(3, 100*time.Millisecond, time.Second, func(error) bool { return false })

	attempts := 0
	err := e.Do(context.Background(), func(context.Context) error {
		attempts++
		return errFlaky
	})
	if err == nil || attempts != 1 {
		t.Fatalf("fatal error should stop after 1 attempt, got %d (err %v)", attempts, err)
	}
	if len(*delays) != 0 {
		t.Fatalf("fatal error must not sleep")
	}
}

func TestSuccessAfterRetries(t *testing.T) {
	e, _ := silentExecutor(5, 10*time.Millisecond, time.Second, func(error) bool { return true })

	attempts := 0
	err := e.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("attempts = %d err = %v, want success on attempt 3", attempts, err)
	}
}

func TestDelaysNonDecreasingAndBounded(t *testing.T) {
	maxDelay := 400 * time.Millisecond
	e, delays := silentExecutor(6, 100*time.Millisecond, maxDelay, func(error) bool { return true })

	_ = e.Do(context.Background(), func(context.Context) error { return errFlaky })

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}
	if len(*delays) != len(want) {
		t.Fatalf("sleeps = %d, want %d", len(*delays), len(want))
	}
	for i, d := range *delays {
		if d != want[i] {
			t.Fatalf("delay[%d] = %s, want %s", i, d, want[i])
		}
		if i > 0 && d < (*delays)[i-1] {
			t.Fatalf("delays must be non-decreasing: %v", *delays)
		}
	}
}

func TestContextCancellationAborts(t *testing.T) {
	e := New(3, time.Millisecond, time.Second, func(error) bool { return true })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Do(ctx, func(context.Context) error { return errFlaky })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
