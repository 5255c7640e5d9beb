package mountaincar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/phasic/timestep"
)

type fixedStarter []float64

func (f fixedStarter) Start() *mat.VecDense {
	return mat.NewVecDense(len(f), append([]float64(nil), f...))
}

func newMountainCar(t *testing.T, start []float64, steps int) *MountainCar {
	task, err := NewGoal(fixedStarter(start), steps, GoalPosition)
	require.NoError(t, err)
	return New(task, 1.0)
}

func TestReachGoal(t *testing.T) {
	m := newMountainCar(t, []float64{GoalPosition - 0.01, MaxSpeed}, 100)
	_, err := m.Reset()
	require.NoError(t, err)

	step, err := m.Step(2)
	require.NoError(t, err)
	assert.True(t, step.Last())
	assert.Equal(t, ts.TerminalStateReached, step.EndType())
	assert.Equal(t, 0.0, step.Reward)
}

func TestLeftWallStopsCar(t *testing.T) {
	m := newMountainCar(t, []float64{MinPosition, -MaxSpeed}, 100)
	_, err := m.Reset()
	require.NoError(t, err)

	step, err := m.Step(0)
	require.NoError(t, err)
	assert.Equal(t, MinPosition, step.Observation.AtVec(0))
	assert.Equal(t, 0.0, step.Observation.AtVec(1))
	assert.Equal(t, -1.0, step.Reward)
}

func TestTimeout(t *testing.T) {
	m := newMountainCar(t, []float64{-0.5, 0}, 2)
	_, err := m.Reset()
	require.NoError(t, err)

	var step ts.TimeStep
	for i := 0; i < 2; i++ {
		step, err = m.Step(1)
		require.NoError(t, err)
	}
	assert.True(t, step.Last())
	assert.Equal(t, ts.Timeout, step.EndType())
}

func TestInvalidStart(t *testing.T) {
	m := newMountainCar(t, []float64{1, 0}, 2)
	_, err := m.Reset()
	assert.Error(t, err)

	m = newMountainCar(t, []float64{-0.5, 0}, 2)
	_, err = m.Reset()
	require.NoError(t, err)
	_, err = m.Step(3)
	assert.Error(t, err)
}
