package pairing

import "time"

// BackoffPolicy is the capped-retry schedule for re-establishing the channel
// after a close. The attempt counter resets whenever a channel opens
// successfully, so only consecutive failures escalate the delay.
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff retries with 2s, 4s, 8s, 16s, 30s, 30s and then gives up.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:        2 * time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 6,
	}
}

// Delay returns the delay before the given attempt (1-based) and whether the
// attempt is within budget.
func (p BackoffPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxAttempts {
		return 0, false
	}
	d := p.Base << (attempt - 1)
	if d > p.Cap || d < p.Base {
		d = p.Cap
	}
	return d, true
}
