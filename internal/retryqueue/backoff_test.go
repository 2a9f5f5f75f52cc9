package retryqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayGrowsExponentially(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute}

	assert.Equal(t, 5*time.Second, b.Delay(0))
	assert.Equal(t, 10*time.Second, b.Delay(1))
	assert.Equal(t, 20*time.Second, b.Delay(2))
	assert.Equal(t, 40*time.Second, b.Delay(3))
}

func TestDelayIsCapped(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute}

	// 5s * 2^7 = 640s, past the 300s cap.
	assert.Equal(t, 5*time.Minute, b.Delay(7))
	assert.Equal(t, 5*time.Minute, b.Delay(10))
	assert.Equal(t, 5*time.Minute, b.Delay(63))
}

func TestDelayNeverExceedsCapWithJitter(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute, JitterMax: time.Second}

	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, b.Delay(10), 5*time.Minute)
	}
}

func TestDelayJitterRange(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute, JitterMax: time.Second}

	for i := 0; i < 100; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.Less(t, d, 6*time.Second)
	}
}

func TestDelayIsMonotonicWithoutJitter(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestDelayClampsNegativeAttempt(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute}
	assert.Equal(t, 5*time.Second, b.Delay(-3))
}
