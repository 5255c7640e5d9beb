package floatutils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClip(t *testing.T) {
	assert.Equal(t, 1.0, Clip(3, -1, 1))
	assert.Equal(t, -1.0, Clip(-3, -1, 1))
	assert.Equal(t, 0.5, Clip(0.5, -1, 1))
}

func TestWrap(t *testing.T) {
	assert.InDelta(t, 4-2*math.Pi, Wrap(4, -math.Pi, math.Pi), 1e-12)
	assert.InDelta(t, 2*math.Pi-4, Wrap(-4, -math.Pi, math.Pi), 1e-12)
	assert.Equal(t, 0.5, Wrap(0.5, -1, 1))
	assert.Equal(t, -1.0, Wrap(1, -1, 1))
}

func TestArgMaxTies(t *testing.T) {
	assert.Equal(t, []int{1, 3}, ArgMax(0, 2, 1, 2))
	assert.Equal(t, []int{0}, ArgMax(5))
}

func TestAllFinite(t *testing.T) {
	assert.True(t, AllFinite([]float64{0, -1, 1e300}))
	assert.False(t, AllFinite([]float64{0, math.NaN()}))
	assert.False(t, AllFinite([]float64{math.Inf(-1)}))
}

func TestLogSoftmax(t *testing.T) {
	logits := []float64{1000, 1000, 1000, 1000}
	out := LogSoftmax(nil, logits)
	require.Len(t, out, 4)

	var total float64
	for _, lp := range out {
		assert.InDelta(t, math.Log(0.25), lp, 1e-12)
		total += math.Exp(lp)
	}
	assert.InDelta(t, 1.0, total, 1e-12)
}
