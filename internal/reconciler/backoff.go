package reconciler

import "time"

// Backoff is the retry policy for transient provider failures: exponential
// delay between attempts, capped, with a bounded attempt count.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

var DefaultBackoff = Backoff{
	Base:        time.Second,
	Factor:      2,
	Cap:         30 * time.Second,
	MaxAttempts: 5,
}

// Delay returns the sleep before the attempt following `attempt` (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}
