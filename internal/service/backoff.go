package service

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before retry number attempt (0-based): base
// doubled per attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Jitter spreads a delay by up to frac of its value in either direction so
// concurrent workers do not retry in lockstep.
func Jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	spread := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * spread
	j := time.Duration(float64(d) + offset)
	if j < 0 {
		return 0
	}
	return j
}
