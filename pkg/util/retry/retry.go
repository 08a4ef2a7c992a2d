package retry

import (
	"context"
	"errors"
	"time"
)

// Backoff describes how often and how long to wait between attempts.
type Backoff struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Factor multiplies Delay after every failed attempt. Values below 1 are treated as 1.
	Factor float64
}

// DefaultBackoff tries up to 3 times, waiting 30 seconds between attempts.
var DefaultBackoff = Backoff{
	Attempts: 3,
	Delay:    30 * time.Second,
	Factor:   1,
}

func AlwaysError(err error) bool { return true }

func NotContextCancelError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// OnError calls fn until it succeeds, isRetry returns false, the attempts are exhausted,
// or ctx is done. The last error from fn is returned.
func OnError(ctx context.Context, backoff Backoff, isRetry func(error) bool, fn func() error) error {
	attempts := backoff.Attempts
	if attempts < 1 {
		attempts = 1
	}
	factor := backoff.Factor
	if factor < 1 {
		factor = 1
	}

	delay := backoff.Delay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isRetry(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * factor)
	}

	return err
}
