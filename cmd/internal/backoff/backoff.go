// Package backoff computes retry delays for the outbox and the realtime
// channel. It is pure: both callers keep their own Policy so their retry
// timing stays uncorrelated.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy selects how the delay grows with the attempt count.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
)

// Policy parameterizes Delay. Zero values are normalized by Delay itself so
// a partially filled Policy stays safe.
type Policy struct {
	Strategy Strategy
	Base     time.Duration
	MaxDelay time.Duration

	// Jitter adds a uniformly random duration in [0, MaxJitter) on top of
	// the computed delay. The jittered result may exceed MaxDelay.
	Jitter    bool
	MaxJitter time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
//
//	exponential: Base * 2^(attempt-1)
//	linear:      Base * attempt
//	fixed:       Base
//
// The result is capped at MaxDelay before jitter is applied.
func Delay(attempt int, p Policy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.Base
	if base <= 0 {
		base = time.Second
	}

	var d time.Duration
	switch p.Strategy {
	case StrategyLinear:
		d = base * time.Duration(attempt)
	case StrategyFixed:
		d = base
	default:
		// Exponential is the default strategy. Guard the shift so very
		// large attempt counts cannot overflow into a negative delay.
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = base * time.Duration(int64(1)<<uint(shift))
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter && p.MaxJitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.MaxJitter)))
	}

	return d
}
