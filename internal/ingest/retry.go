package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry is the per-document fetch retry policy. Attempts <= 1 disables retries.
type Retry struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// NoRetry tries every fetch exactly once
var NoRetry = Retry{Attempts: 1}

func retry[T any](ctx context.Context, policy Retry, op func() (T, error)) (T, error) {
	if policy.Attempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if policy.Initial > 0 {
		b.InitialInterval = policy.Initial
	}
	if policy.Max > 0 {
		b.MaxInterval = policy.Max
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.Attempts)),
	)
}
