package gae

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestEstimateTerminalBaseline(t *testing.T) {
	in := Input{
		NumEnvs:   1,
		Rewards:   []float64{0, 0, 0},
		Values:    []float64{0.5, -1.25, 2},
		Dones:     []bool{false, false, true},
		Bootstrap: []float64{0},
	}

	adv, ret, err := Estimate(in, 1, 1)
	require.NoError(t, err)

	// With γ = λ = 1 and no reward, each advantage telescopes to −V(s_t)
	assert.InDeltaSlice(t, []float64{-0.5, 1.25, -2}, adv, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, ret, 1e-12)
}

func TestEstimateMatchesClosedForm(t *testing.T) {
	const gamma, lambda = 0.9, 0.8
	rewards := []float64{1, -0.5, 2, 0.25, 3}
	values := []float64{0.1, 0.4, -0.2, 0.7, 1.5}
	bootstrap := 0.9

	in := Input{
		NumEnvs:   1,
		Rewards:   rewards,
		Values:    values,
		Dones:     make([]bool, len(rewards)),
		Bootstrap: []float64{bootstrap},
	}
	adv, ret, err := Estimate(in, gamma, lambda)
	require.NoError(t, err)

	next := append(append([]float64(nil), values[1:]...), bootstrap)
	deltas := make([]float64, len(rewards))
	for i := range rewards {
		deltas[i] = rewards[i] + gamma*next[i] - values[i]
	}
	want := DiscountCumSum(mat.NewVecDense(len(deltas), deltas), gamma*lambda)

	assert.InDeltaSlice(t, want, adv, 1e-12)
	for i := range ret {
		assert.InDelta(t, adv[i]+values[i], ret[i], 1e-12)
	}

	// λ = 1 recovers discounted rewards-to-go bootstrapped with V(s_T)
	_, ret, err = Estimate(in, gamma, 1)
	require.NoError(t, err)
	rews := mat.NewVecDense(len(rewards)+1, append(append([]float64(nil),
		rewards...), bootstrap))
	rtg := DiscountCumSum(rews, gamma)
	assert.InDeltaSlice(t, rtg[:len(rewards)], ret, 1e-12)
}

func TestEstimateDoneStopsCreditAssignment(t *testing.T) {
	// Two environments, time-major. Env 0 terminates at t = 1.
	in := Input{
		NumEnvs: 2,
		Rewards: []float64{
			1, 1,
			1, 1,
			10, 1,
		},
		Values:    []float64{0, 0, 0, 0, 0, 0},
		Dones:     []bool{false, false, true, false, false, false},
		Bootstrap: []float64{100, 0},
	}

	adv, _, err := Estimate(in, 1, 1)
	require.NoError(t, err)

	// Env 0: the episode ending at t = 1 must see neither the reward of
	// 10 nor the bootstrap of 100 from the next episode.
	assert.InDelta(t, 2.0, adv[0], 1e-12)
	assert.InDelta(t, 1.0, adv[2], 1e-12)
	assert.InDelta(t, 110.0, adv[4], 1e-12)

	// Env 1 never terminates
	assert.InDelta(t, 3.0, adv[1], 1e-12)
	assert.InDelta(t, 2.0, adv[3], 1e-12)
	assert.InDelta(t, 1.0, adv[5], 1e-12)
}

func TestEstimateValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		gamma float64
	}{
		{"no envs", Input{}, 0.9},
		{"ragged", Input{NumEnvs: 2, Rewards: []float64{1, 2, 3},
			Values: make([]float64, 3), Dones: make([]bool, 3),
			Bootstrap: make([]float64, 2)}, 0.9},
		{"bootstrap", Input{NumEnvs: 1, Rewards: []float64{1},
			Values: []float64{1}, Dones: []bool{false}}, 0.9},
		{"gamma", Input{NumEnvs: 1, Rewards: []float64{1},
			Values: []float64{1}, Dones: []bool{false},
			Bootstrap: []float64{0}}, 1.5},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := Estimate(test.in, test.gamma, 0.95)
			assert.Error(t, err)
		})
	}
}

func TestStandardize(t *testing.T) {
	x := []float64{1, 2, 3, 4, 10}
	out := Standardize(x)

	assert.InDelta(t, 0.0, stat.Mean(out, nil), 1e-12)
	assert.InDelta(t, 1.0, stat.StdDev(out, nil), 1e-6)
	assert.Equal(t, []float64{1, 2, 3, 4, 10}, x, "input must not change")

	assert.Equal(t, []float64{0, 0}, Standardize([]float64{3, 3}))
	assert.Empty(t, Standardize(nil))
}
