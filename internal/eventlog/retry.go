package eventlog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

// RetryPolicy bounds AppendWithRetry. Zero values fall back to defaults.
type RetryPolicy struct {
	// MaxAttempts caps the total number of append attempts.
	MaxAttempts int

	// BaseBackoff is the initial delay after a conflict.
	BaseBackoff time.Duration

	// JitterCap bounds the randomized delay between attempts.
	JitterCap time.Duration
}

// DefaultRetryPolicy is used when the caller passes a zero policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 8,
	BaseBackoff: 25 * time.Millisecond,
	JitterCap:   2 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultRetryPolicy.BaseBackoff
	}
	if p.JitterCap <= 0 {
		p.JitterCap = DefaultRetryPolicy.JitterCap
	}
	return p
}

// AppendWithRetry reads the tail, appends with that as the expected
// precondition, and on Conflict re-reads and retries with bounded
// exponential backoff and jitter, up to the policy's cap.
//
// The caller's ctx deadline is honored: on expiry the append attempt in
// flight is abandoned and a timeout surfaces without mutating state.
// Integrity and backend errors are permanent and surface unchanged.
func AppendWithRetry(ctx context.Context, store Store, event kernel.Event, policy RetryPolicy) (chain.Record, error) {
	policy = policy.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BaseBackoff
	bo.MaxInterval = policy.JitterCap
	// Attempts are the cap, not elapsed time.
	bo.MaxElapsedTime = 0

	var rec chain.Record
	attempt := func() error {
		tail, err := store.Tail(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		rec, err = store.Append(ctx, event, tail.LastHash)
		if err == nil {
			return nil
		}
		if IsConflict(err) {
			// Another writer advanced the log; refresh and retry.
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(attempt,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(policy.MaxAttempts-1)), ctx))
	if err != nil {
		return chain.Record{}, err
	}
	return rec, nil
}
