package fetch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: the base delay doubles with each attempt,
// gets a multiplicative jitter in [0.8, 1.2], and is capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// jitter returns the multiplier for one delay; overridable in tests
	jitter func() float64
}

// NewBackoff returns a Backoff with randomized jitter.
func NewBackoff(base, max time.Duration) Backoff {
	return Backoff{
		Base:   base,
		Max:    max,
		jitter: func() float64 { return 0.8 + rand.Float64()*0.4 },
	}
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	// Past 30 doublings the shift would overflow; the cap applies anyway
	if attempt > 30 {
		attempt = 30
	}

	delay := b.Base * time.Duration(1<<uint(attempt))
	if b.jitter != nil {
		delay = time.Duration(float64(delay) * b.jitter())
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
