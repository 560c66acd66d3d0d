package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// Policy is the single retry/backoff policy shared by the review
// fetcher, token refresh and storage-facing calls. Delays grow
// exponentially from BaseDelay up to MaxDelay, with up to JitterFrac
// of the delay added as random jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterFrac  float64
}

func Default() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		JitterFrac:  0.25,
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, the
// context is done, or retryable reports the error as terminal.
// A nil retryable predicate retries every failure.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 1 {
		return fn()
	}

	var err error
	delay := p.BaseDelay
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		// Do not sleep after last attempt
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(p.withJitter(delay)):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}

func (p Policy) withJitter(delay time.Duration) time.Duration {
	if p.JitterFrac <= 0 {
		return delay
	}
	jitter := time.Duration(rand.Float64() * p.JitterFrac * float64(delay))
	return delay + jitter
}

// IsNetworkError reports whether err looks like a transport-level
// failure worth another attempt.
func IsNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
