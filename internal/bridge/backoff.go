package bridge

import (
	"math"
	"time"
)

// Backoff computes exponential reconnect delays. The zero value is not
// usable; use DefaultBackoff or fill all fields.
type Backoff struct {
	Base   time.Duration
	Growth float64
	Max    time.Duration
}

// DefaultBackoff matches the reconnect cadence used across node
// implementations: ~300ms base, 1.7x growth, capped at 8s.
func DefaultBackoff() Backoff {
	return Backoff{Base: 300 * time.Millisecond, Growth: 1.7, Max: 8 * time.Second}
}

// Delay returns min(Max, Base * Growth^attempt). Attempt 0 is the first
// failure.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(b.Growth, float64(attempt))
	if d > float64(b.Max) || d < 0 {
		return b.Max
	}
	return time.Duration(d)
}
