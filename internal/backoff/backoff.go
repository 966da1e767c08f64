package backoff

import (
	"math/rand/v2"
	"time"
)

// Default policy parameters applied when a field is unset.
const (
	DefaultBase = 2 * time.Second
	DefaultMax  = 30 * time.Second
)

// Policy computes the delay before the next live-acquisition retry.
// Delays grow exponentially with the consecutive failure count and are
// capped at Max. With Jitter enabled a uniform random amount in [0, delay)
// is added so that many sessions hitting the same cloud endpoint do not
// retry in lockstep.
type Policy struct {
	Base   time.Duration `json:"base" mapstructure:"base"`
	Max    time.Duration `json:"max" mapstructure:"max"`
	Jitter bool          `json:"jitter" mapstructure:"jitter"`
}

// Next returns the delay for the given consecutive failure count.
// attempt 0 yields Base; each further attempt doubles the delay up to Max.
func (p Policy) Next(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	if base > maxDelay {
		base = maxDelay
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if p.Jitter {
		d += rand.N(d)
	}
	return d
}

// NextAfter returns the delay for attempt, overridden by a server-provided
// retry-after hint when the hint is larger than the computed delay.
func (p Policy) NextAfter(attempt int, retryAfter time.Duration) time.Duration {
	d := p.Next(attempt)
	if retryAfter > d {
		return retryAfter
	}
	return d
}
