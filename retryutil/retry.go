// Package retryutil implements a small backoff loop used by rpcchannel when
// establishing the initial TCP connection. It is deliberately not used for
// RPC calls themselves: spec.md's call() semantics are exactly-once per
// invocation — retrying a call the caller didn't ask to retry would violate
// "exactly one of {reply, error, channel-close} resolves the completion".
package retryutil

import (
	"context"
	"time"
)

// Policy configures a backoff loop.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
	// Multiplier grows the backoff after each failed attempt.
	Multiplier float64
}

// DefaultPolicy returns 3 attempts, 100ms initial backoff, 2s max, 2x growth.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// Do calls fn until it succeeds, the policy's attempts are exhausted, or
// ctx is done. Returns the last error if every attempt failed.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}
