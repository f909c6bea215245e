package workflow

import "time"

// BackoffPolicy computes the delay before retrying a failed step.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff retries after 30s, 1m, 2m, ... up to one hour.
var DefaultBackoff = BackoffPolicy{Initial: 30 * time.Second, Max: time.Hour}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Initial

	for i := 1; i < attempt; i++ {
		delay *= 2

		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}

	if p.Max > 0 && delay > p.Max {
		return p.Max
	}

	return delay
}

// Backoff returns the DefaultBackoff delay for attempt.
func Backoff(attempt int) time.Duration {
	return DefaultBackoff.Delay(attempt)
}
