package backoff

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixed(v float64) Source { return func() float64 { return v } }

func TestComputeDelay_Formula(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tc := range cases {
		got := ComputeDelay(tc.attempt, time.Second, 2, 60*time.Second, fixed(0))
		require.Equal(t, tc.want, got, "attempt %d", tc.attempt)
	}
}

func TestComputeDelay_Jitter(t *testing.T) {
	// Upper edge of the jitter window adds 10%.
	got := ComputeDelay(1, time.Second, 2, time.Minute, fixed(1))
	require.Equal(t, 2200*time.Millisecond, got)

	got = ComputeDelay(1, time.Second, 2, time.Minute, fixed(0.5))
	require.Equal(t, 2100*time.Millisecond, got)
}

func TestComputeDelay_DeterministicWithSeededSource(t *testing.T) {
	a := rand.New(rand.NewPCG(7, 11))
	b := rand.New(rand.NewPCG(7, 11))
	for attempt := range 10 {
		require.Equal(t,
			ComputeDelay(attempt, 100*time.Millisecond, 1.7, 5*time.Second, a.Float64),
			ComputeDelay(attempt, 100*time.Millisecond, 1.7, 5*time.Second, b.Float64),
		)
	}
}

func TestComputeDelay_MonotonicAndBounded(t *testing.T) {
	limit := 60 * time.Second
	for _, edge := range []float64{0, 0.5, 0.999999} {
		prev := time.Duration(0)
		for attempt := range 64 {
			d := ComputeDelay(attempt, time.Second, 2, limit, fixed(edge))
			require.GreaterOrEqual(t, d, prev, "attempt %d jitter %v", attempt, edge)
			require.LessOrEqual(t, d, time.Duration(float64(limit)*1.1))
			prev = d
		}
	}

	r := rand.New(rand.NewPCG(1, 2))
	for attempt := range 1000 {
		d := ComputeDelay(attempt%80, time.Second, 2, limit, r.Float64)
		require.LessOrEqual(t, d, time.Duration(float64(limit)*1.1))
		require.Positive(t, d)
	}
}

func TestComputeDelay_NegativeAttemptTreatedAsFirst(t *testing.T) {
	require.Equal(t, time.Second, ComputeDelay(-3, time.Second, 2, time.Minute, fixed(0)))
}

func TestPolicy_DelayAfterHint(t *testing.T) {
	p := Policy{Base: time.Second, Multiplier: 2, Max: 10 * time.Second, Rand: fixed(0)}

	require.Equal(t, 4*time.Second, p.DelayAfter(2, 0))
	require.Equal(t, 7*time.Second, p.DelayAfter(2, 7*time.Second))
	require.Equal(t, 10*time.Second, p.DelayAfter(0, time.Hour), "hint is capped")
}

func TestDefault(t *testing.T) {
	p := Default()
	p.Rand = fixed(0)
	require.Equal(t, time.Second, p.Delay(0))
	require.Equal(t, 60*time.Second, p.Delay(10))
}
