package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls executeWithRetry's exponential backoff with full
// jitter.
type BackoffConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 5s base, 60s cap.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: 5 * time.Second, Cap: 60 * time.Second, MaxAttempts: 3}
}

// delay computes the full-jitter exponential backoff for the given attempt
// (1-indexed): a random duration in [0, min(cap, base*2^(attempt-1))).
func (c BackoffConfig) delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	capped := float64(c.Cap)
	raw := float64(c.Base) * math.Pow(2, float64(attempt-1))
	if raw > capped {
		raw = capped
	}
	if raw <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(raw)))
}
