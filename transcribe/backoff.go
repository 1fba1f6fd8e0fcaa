package transcribe

import "time"

// Backoff is an exponential reconnect policy.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the default reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        250 * time.Millisecond,
		Max:         4 * time.Second,
		MaxAttempts: 3,
	}
}

// Delay returns the wait before reconnect attempt n, starting at 1: Base
// doubled n-1 times, capped at Max. A zero Max means no cap.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if b.Max > 0 {
		return min(d, b.Max)
	}
	return d
}
