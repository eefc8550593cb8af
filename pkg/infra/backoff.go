package infra

import (
	"math/rand/v2"
	"sync"
	"time"
)

// jitterSpread is the fraction of the nominal delay randomized on every wait.
const jitterSpread = 0.25

// Backoff hands out exponentially growing, jittered wait times for the outer
// reconnect loops (store connects, broker redials). Safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	floor    time.Duration
	ceiling  time.Duration
	factor   float64
	delay    time.Duration
	attempts int
}

func NewBackoff(floor, ceiling time.Duration, factor float64) *Backoff {
	return &Backoff{
		floor:   floor,
		ceiling: ceiling,
		factor:  factor,
		delay:   floor,
	}
}

// Next returns the wait before the upcoming attempt and advances the nominal
// delay towards the ceiling. The returned wait never drops below the floor.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	spread := jitterSpread * float64(b.delay)
	wait := b.delay + time.Duration(rand.Float64()*2*spread-spread)
	if wait < b.floor {
		wait = b.floor
	}

	b.delay = time.Duration(float64(b.delay) * b.factor)
	if b.delay > b.ceiling {
		b.delay = b.ceiling
	}
	return wait
}

// Reset drops the delay back to the floor after a successful attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = b.floor
	b.attempts = 0
}

// Attempts reports how many waits were handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
