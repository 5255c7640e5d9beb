package environment_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/environment/toy"
	ts "github.com/samuelfneumann/phasic/timestep"
)

func TestStepLimit(t *testing.T) {
	limit := env.NewStepLimit(3)

	step := ts.New(ts.Mid, 0, 1, mat.NewVecDense(1, nil), 2)
	assert.False(t, limit.End(&step))
	assert.True(t, step.Mid())

	step.Number = 3
	assert.True(t, limit.End(&step))
	assert.True(t, step.Last())
	assert.Equal(t, ts.Timeout, step.EndType())

	never := env.NewStepLimit(0)
	step = ts.New(ts.Mid, 0, 1, mat.NewVecDense(1, nil), 1<<20)
	assert.False(t, never.End(&step))
}

func TestIntervalLimit(t *testing.T) {
	_, err := env.NewIntervalLimit([]r1.Interval{{Min: 0, Max: 1}}, nil,
		ts.TerminalStateReached)
	require.Error(t, err)

	limit, err := env.NewIntervalLimit([]r1.Interval{{Min: -1, Max: 1}},
		[]int{1}, ts.TerminalStateReached)
	require.NoError(t, err)

	step := ts.New(ts.Mid, 0, 1, mat.NewVecDense(2, []float64{5, 1}), 1)
	assert.False(t, limit.End(&step))

	step.Observation.SetVec(1, 1.5)
	assert.True(t, limit.End(&step))
	assert.Equal(t, ts.TerminalStateReached, step.EndType())
}

func TestLevelStarter(t *testing.T) {
	center := []float64{0, 10}
	spread := []float64{0.05, 0.5}

	s, err := env.NewLevelStarter(center, spread, env.Easy, 7, 3, 1)
	require.NoError(t, err)

	seen := make(map[uint64][]float64)
	for i := 0; i < 100; i++ {
		state := s.Start()
		level := s.Level()
		require.GreaterOrEqual(t, level, uint64(7))
		require.Less(t, level, uint64(10))

		for j, c := range center {
			assert.LessOrEqual(t, math.Abs(state.AtVec(j)-c), spread[j])
		}

		// The same level always produces the same start state
		if prev, ok := seen[level]; ok {
			assert.Equal(t, prev, state.RawVector().Data)
		}
		seen[level] = state.RawVector().Data
	}
	assert.Len(t, seen, 3)

	hard, err := env.NewLevelStarter(center, spread, env.Hard, 7, 3, 1)
	require.NoError(t, err)
	assert.InDelta(t, s.StartLevel(8).AtVec(0)*env.Hard.Scale(),
		hard.StartLevel(8).AtVec(0), 1e-12)
}

func TestLevelStarterErrors(t *testing.T) {
	_, err := env.NewLevelStarter([]float64{0}, []float64{1, 2}, env.Easy,
		0, 0, 0)
	assert.Error(t, err)

	_, err = env.NewLevelStarter([]float64{0}, []float64{1}, "medium", 0, 0, 0)
	assert.Error(t, err)

	_, err = env.NewLevelStarter([]float64{0}, []float64{-1}, env.Easy, 0, 0,
		0)
	assert.Error(t, err)

	mode, err := env.ParseDistributionMode("HARD")
	require.NoError(t, err)
	assert.Equal(t, env.Hard, mode)
}

func TestVecAutoReset(t *testing.T) {
	envs := []env.Environment{toy.NewConstant(2, 1), toy.NewConstant(3, 1)}
	vec, err := env.NewVec(envs)
	require.NoError(t, err)
	assert.Equal(t, 2, vec.NumEnvs())
	assert.Equal(t, 1, vec.ObservationSize())
	assert.Equal(t, toy.NumActions, vec.NumActions())

	_, _, _, _, err = vec.Step([]int{0, 0})
	require.Error(t, err, "step before reset")

	obs, err := vec.Reset()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, obs)

	wantDones := [][]bool{
		{false, false},
		{true, false},
		{false, true},
		{true, false},
	}
	for i, want := range wantDones {
		obs, rewards, dones, infos, err := vec.Step([]int{0, 1})
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 1}, obs)
		assert.Equal(t, []float64{1, 1}, rewards)
		assert.Equal(t, want, dones, "step %d", i)

		for e, done := range dones {
			assert.Equal(t, done, infos[e].EpisodeDone)
			if done {
				assert.Equal(t, float64(e+2), infos[e].EpisodeReturn)
				assert.Equal(t, e+2, infos[e].EpisodeLength)
				assert.Equal(t, ts.Timeout, infos[e].EndType)
			}
		}
	}

	_, _, _, _, err = vec.Step([]int{0, 2})
	assert.True(t, errors.Is(err, env.ErrIllegalAction))

	_, _, _, _, err = vec.Step([]int{0})
	assert.Error(t, err)
}

func TestVecMismatchedEnvironments(t *testing.T) {
	_, err := env.NewVec(nil)
	assert.Error(t, err)
}
