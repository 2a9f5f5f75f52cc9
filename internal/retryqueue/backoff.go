package retryqueue

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the next retry attempt:
//
//	delay(attempt) = min(cap, base * 2^attempt) + jitter, jitter in [0, jitterMax)
//
// The deterministic component is non-decreasing in attempt and never exceeds
// Cap; the jitter spreads retries out so tenants do not all hammer KSeF at
// the same instant after an outage.
type Backoff struct {
	Base      time.Duration
	Cap       time.Duration
	JitterMax time.Duration
}

// Delay returns the backoff for the given 0-based attempt number. The cap
// bounds the jittered value too, so a delay never exceeds Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.delayWithoutJitter(attempt) + b.jitter()
	if delay > b.Cap {
		return b.Cap
	}
	return delay
}

func (b Backoff) delayWithoutJitter(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap || delay < 0 { // overflow guard
			return b.Cap
		}
	}
	if delay > b.Cap {
		return b.Cap
	}
	return delay
}

func (b Backoff) jitter() time.Duration {
	if b.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(b.JitterMax)))
}
