package delivery

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays and the retry ceiling for transport failures.
type Backoff struct {
	Base         time.Duration
	Cap          time.Duration
	MaxRetries   int
	JitterFactor float64
}

// DefaultBackoff returns 30s base, 1h cap, 5 attempts and 10% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:         30 * time.Second,
		Cap:          time.Hour,
		MaxRetries:   5,
		JitterFactor: 0.1,
	}
}

// NextAttempt returns min(Base * 2^attemptCount, Cap) plus a random jitter in
// [0, JitterFactor * delay). Zero jitter gives deterministic delays.
func (b Backoff) NextAttempt(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}

	base := b.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	ceiling := b.Cap
	if ceiling <= 0 {
		ceiling = time.Hour
	}

	delay := float64(base) * math.Pow(2, float64(attemptCount))
	if delay > float64(ceiling) {
		delay = float64(ceiling)
	}

	if b.JitterFactor > 0 {
		delay += rand.Float64() * b.JitterFactor * delay
	}

	return time.Duration(delay)
}

// Exhausted reports whether no retry is left after attemptCount attempts.
func (b Backoff) Exhausted(attemptCount int) bool {
	return attemptCount >= b.MaxRetries
}
