package dispatch

import (
	"math/rand"
	"time"
)

type BackoffConfig struct {
	Base time.Duration // first retry delay, e.g. 1s
	Cap  time.Duration // upper bound, e.g. 60s
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: time.Second, Cap: 60 * time.Second}
}

// Delay returns the wait before retry number attempt (1-based): exponential
// doubling from Base, capped at Cap, with +/-20% jitter.
func Delay(attempt int, cfg BackoffConfig, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 60 * time.Second
	}

	delay := cfg.Cap
	if shift := attempt - 1; shift < 30 {
		delay = cfg.Base << shift
		if delay > cfg.Cap {
			delay = cfg.Cap
		}
	}

	var f float64
	if rng != nil {
		f = rng.Float64()
	} else {
		f = rand.Float64()
	}
	// jitter factor in [0.8, 1.2]
	return time.Duration(float64(delay) * (0.8 + 0.4*f))
}
