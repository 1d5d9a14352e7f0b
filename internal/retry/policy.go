package retry

import (
	"math/rand"
	"time"
)

// Policy computes retry timing: exponential backoff with jitter,
// bounded by a maximum delay and a maximum attempt count
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     time.Duration
	MaxRetries int
}

// DefaultPolicy returns the reference retry policy
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  5 * time.Minute,
		MaxDelay:   24 * time.Hour,
		Jitter:     30 * time.Second,
		MaxRetries: 3,
	}
}

// NextRetryAt returns now + min(base * 2^retryCount + jitter, max)
func (p Policy) NextRetryAt(now time.Time, retryCount int) time.Time {
	// Cap the shift so large counts cannot overflow the duration
	shift := retryCount
	if shift > 20 {
		shift = 20
	}

	delay := p.BaseDelay << shift
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return now.Add(delay)
}

// Exhausted reports whether a message with the given attempt count has
// used up its retry budget
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
