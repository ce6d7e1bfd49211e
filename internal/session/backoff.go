package session

import (
	"math/rand/v2"
	"time"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
)

// backoffDelay doubles base per attempt up to max and applies ±25% jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		if delay > max/2 {
			delay = max
			break
		}
		delay *= 2
	}
	delay = min(delay, max)
	if delay < 4 {
		return delay
	}
	jitter := time.Duration(rand.Int64N(int64(delay) / 2))
	return delay - delay/4 + jitter
}
