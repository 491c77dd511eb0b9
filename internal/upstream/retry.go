package upstream

import (
	"context"
	"log"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy describes how an idempotent upstream read is retried.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first one.
	Retries uint
	Backoff time.Duration
}

// DefaultRetryPolicy retries once after a short fixed pause.
var DefaultRetryPolicy = RetryPolicy{Retries: 1, Backoff: 250 * time.Millisecond}

// Retryable reports whether a failure is worth a second attempt. Only
// timeouts and generic transport failures qualify; rate limiting, bad payloads
// and missing entities would fail the same way again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}

// Retry runs fn under policy. It stops early when ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, label string, fn func(context.Context) (T, error)) (T, error) {
	return retry.DoWithData(
		func() (T, error) { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(policy.Retries+1),
		retry.Delay(policy.Backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[retry] %s attempt %d failed: %v", label, n+1, err)
		}),
	)
}
