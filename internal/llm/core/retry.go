package core

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const (
	defaultRetryMaxRetries = 3
	defaultRetryBaseDelay  = 300 * time.Millisecond
	defaultRetryMaxDelay   = 5 * time.Second
)

// retryableError marks err as transient. after is a delay suggested by the
// remote side, zero when it gave none.
type retryableError struct {
	err   error
	after time.Duration
}

func (e retryableError) Error() string { return e.err.Error() }

func (e retryableError) Unwrap() error { return e.err }

// MarkRetryable wraps err so Retry and provider loops try again.
func MarkRetryable(err error) error {
	return MarkRetryableAfter(err, 0)
}

// MarkRetryableAfter is MarkRetryable with a server-suggested wait, such as
// an HTTP Retry-After header.
func MarkRetryableAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err, after: max(after, 0)}
}

// IsRetryableError reports whether err has been marked as retryable.
func IsRetryableError(err error) bool {
	var target retryableError
	return errors.As(err, &target)
}

// RetryAfter returns the suggested wait carried by a retryable err.
func RetryAfter(err error) time.Duration {
	var target retryableError
	if errors.As(err, &target) {
		return target.after
	}
	return 0
}

// NormalizeRetryPolicy fills unset fields with defaults. Negative MaxRetries
// disables retries; zero means unset.
func NormalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	switch {
	case policy.MaxRetries < 0:
		policy.MaxRetries = 0
	case policy.MaxRetries == 0:
		policy.MaxRetries = defaultRetryMaxRetries
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultRetryBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultRetryMaxDelay
	}
	return policy
}

// MergeRetryPolicy overlays the positive fields of override on base.
func MergeRetryPolicy(base RetryPolicy, override RetryPolicy) RetryPolicy {
	merged := NormalizeRetryPolicy(base)
	if override.MaxRetries > 0 {
		merged.MaxRetries = override.MaxRetries
	}
	if override.BaseDelay > 0 {
		merged.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay > 0 {
		merged.MaxDelay = override.MaxDelay
	}
	merged.MaxDelay = max(merged.MaxDelay, merged.BaseDelay)
	return merged
}

// ComputeBackoffDelay doubles BaseDelay per attempt up to MaxDelay and
// applies +/-20% jitter.
func ComputeBackoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.MaxDelay
	if attempt < 32 {
		if d := policy.BaseDelay << attempt; d > 0 && d < policy.MaxDelay {
			delay = d
		}
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(delay) * jitter)
}

// Retry calls fn until it succeeds, returns an error not marked retryable, or
// the retry budget is spent. The wait before the next attempt is the backoff
// delay or the error's RetryAfter, whichever is longer, capped at MaxDelay.
// The final error is returned without the retry marker.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	policy = NormalizeRetryPolicy(policy)
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) || attempt >= policy.MaxRetries {
			return unwrapRetryable(err)
		}
		wait := max(ComputeBackoffDelay(policy, attempt), min(RetryAfter(err), policy.MaxDelay))
		if sleepErr := SleepContext(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
}

func unwrapRetryable(err error) error {
	if marked, ok := err.(retryableError); ok {
		return marked.err
	}
	return err
}

// SleepContext waits for delay unless ctx ends first.
func SleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
