package presence

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential from Base and capped at Cap,
// then spread by a uniform ±Jitter fraction.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
	// Rand returns a value in [0, 1); defaults to math/rand
	Rand func() float64
}

// DefaultBackoff is 1s doubling to 30s with ±20% jitter
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second, Jitter: 0.2}
}

// Delay returns the wait before reconnect attempt n (starting at 0).
//
// Cap bounds the exponential term only. Jitter is applied afterwards and stays
// symmetric at the cap, so with the defaults a capped delay falls in [24s, 36s].
func (b Backoff) Delay(attempt int) time.Duration {
	base, limit := b.Base, b.Cap
	if base <= 0 {
		base = time.Second
	}
	if limit < base {
		limit = base
	}

	d := base
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}

	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d = time.Duration(float64(d) * (1 + b.Jitter*(2*r()-1)))
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}
