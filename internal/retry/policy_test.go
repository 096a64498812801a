package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyLinear(t *testing.T) {
	p := Policy{
		Strategy:     StrategyLinear,
		InitialDelay: 200 * time.Millisecond,
		LinearStep:   200 * time.Millisecond,
		MaxAttempts:  -1,
	}

	d, ok := p.NextDelay(1)
	require.True(t, ok)
	require.Equal(t, 200*time.Millisecond, d)

	d, ok = p.NextDelay(3)
	require.True(t, ok)
	require.Equal(t, 600*time.Millisecond, d)
}

func TestPolicyExponentialClamped(t *testing.T) {
	p := Policy{
		Strategy:        StrategyExponential,
		InitialDelay:    time.Second,
		ExponentialBase: 2,
		Deadline:        5 * time.Second,
		MaxAttempts:     -1,
	}

	d, ok := p.NextDelay(10)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, d)
}

func TestPolicyNoneTerminatesAfterFirstFailure(t *testing.T) {
	p := Policy{Strategy: StrategyNone}

	_, ok := p.NextDelay(0)
	require.True(t, ok)

	_, ok = p.NextDelay(1)
	require.False(t, ok)
}

func TestPolicyMaxAttempts(t *testing.T) {
	p := Policy{Strategy: StrategyImmediate, MaxAttempts: 2}

	_, ok := p.NextDelay(2)
	require.True(t, ok)

	_, ok = p.NextDelay(3)
	require.False(t, ok)
}

func TestPolicyExponentialJitterWithinBounds(t *testing.T) {
	p := Policy{
		Strategy:        StrategyExponentialJitter,
		InitialDelay:    time.Second,
		ExponentialBase: 2,
		JitterPct:       0.2,
		MaxAttempts:     -1,
		RandFloat64:     func() float64 { return 1 }, // max jitter factor
	}

	d, ok := p.NextDelay(1)
	require.True(t, ok)
	require.Equal(t, 1200*time.Millisecond, d)
}
