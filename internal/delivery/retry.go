package delivery

import "time"

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first.
type RetryPolicy struct {
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	// RetryOn lists the outcomes eligible for a retry.
	RetryOn []OutcomeKind
	// MaxWait caps the server-provided wait; a longer wait drops the retry.
	// Zero means no cap.
	MaxWait time.Duration
}

// DefaultRetryPolicy retries once, only after a rate limit.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, RetryOn: []OutcomeKind{OutcomeRateLimited}}
}

// Next reports whether attempt number `attempts` (1-based, already made)
// should be followed by another, and the wait before it.
func (p RetryPolicy) Next(attempts int, o Outcome) (time.Duration, bool) {
	if attempts > p.MaxRetries {
		return 0, false
	}
	eligible := false
	for _, k := range p.RetryOn {
		if k == o.Kind {
			eligible = true
			break
		}
	}
	if !eligible {
		return 0, false
	}
	wait := max(o.RetryAfter, 0)
	if p.MaxWait > 0 && wait > p.MaxWait {
		return 0, false
	}
	return wait, true
}
