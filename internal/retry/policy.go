// Package retry implements the retry controller (spec §4.7): failure
// classification into a backoff schedule, change detection for the
// adaptive strategy, and a YAML-persisted per-server adaptive cache.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy selects the backoff shape between reconnection attempts.
type Strategy int

// retry strategies.
const (
	StrategyNone Strategy = iota
	StrategyImmediate
	StrategyLinear
	StrategyExponential
	StrategyExponentialJitter
	StrategyAuto
	StrategyAdaptive
)

// Policy configures the backoff formulas of §4.7 step 2. Auto and
// Adaptive are resolved by Controller, not by Policy.NextDelay
// directly.
type Policy struct {
	Strategy Strategy

	InitialDelay    time.Duration
	LinearStep      time.Duration
	ExponentialBase float64
	JitterPct       float64

	// MaxAttempts bounds the attempt counter; -1 means unlimited.
	MaxAttempts int

	// Deadline is reconnection_timeout: every computed delay is
	// clamped to it.
	Deadline time.Duration

	// RandFloat64 returns a uniform value in [0,1); defaults to
	// rand.Float64. Overridable for deterministic tests.
	RandFloat64 func() float64
}

func (p Policy) randFloat() float64 {
	if p.RandFloat64 != nil {
		return p.RandFloat64()
	}
	return rand.Float64()
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if p.Deadline > 0 && d > p.Deadline {
		return p.Deadline
	}
	if d < 0 {
		return 0
	}
	return d
}

// NextDelay returns the delay before the given attempt (1-based) and
// whether to retry at all. attempt is the number of the attempt about
// to be made (the first retry is attempt 1).
func (p Policy) NextDelay(attempt int) (time.Duration, bool) {
	if p.MaxAttempts >= 0 && attempt > p.MaxAttempts {
		return 0, false
	}

	switch p.Strategy {
	case StrategyNone:
		return 0, attempt < 1

	case StrategyImmediate:
		return 0, true

	case StrategyLinear:
		d := p.InitialDelay + p.LinearStep*time.Duration(attempt-1)
		return p.clamp(d), true

	case StrategyExponential:
		d := time.Duration(float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt-1)))
		return p.clamp(d), true

	case StrategyExponentialJitter:
		base := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
		factor := 1 + (p.randFloat()*2-1)*p.JitterPct
		return p.clamp(time.Duration(base * factor)), true

	default:
		// Auto/Adaptive delays are computed by Controller, which
		// substitutes a concrete Strategy before calling NextDelay.
		return p.clamp(p.InitialDelay), true
	}
}
