package cartpole

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	env "github.com/samuelfneumann/phasic/environment"
	ts "github.com/samuelfneumann/phasic/timestep"
)

// fixedStarter always starts in the same state
type fixedStarter []float64

func (f fixedStarter) Start() *mat.VecDense {
	return mat.NewVecDense(len(f), append([]float64(nil), f...))
}

func newCartpole(t *testing.T, start []float64, steps int) *Cartpole {
	task, err := NewBalance(fixedStarter(start), steps, FailAngle)
	require.NoError(t, err)
	return New(task, 1.0)
}

func TestStepBeforeReset(t *testing.T) {
	c := newCartpole(t, []float64{0, 0, 0, 0}, 10)
	_, err := c.Step(1)
	assert.Error(t, err)
}

func TestIllegalAction(t *testing.T) {
	c := newCartpole(t, []float64{0, 0, 0, 0}, 10)
	_, err := c.Reset()
	require.NoError(t, err)

	for _, a := range []int{-1, NumActions} {
		_, err := c.Step(a)
		assert.True(t, errors.Is(err, env.ErrIllegalAction), "action %d", a)
	}
}

func TestForceDirection(t *testing.T) {
	for action, sign := range []float64{-1, 0, 1} {
		c := newCartpole(t, []float64{0, 0, 0, 0}, 10)
		_, err := c.Reset()
		require.NoError(t, err)

		step, err := c.Step(action)
		require.NoError(t, err)
		require.Equal(t, 1, step.Number)

		// Velocity picks up the sign of the applied force and the pole
		// swings the other way
		xDot := step.Observation.AtVec(1)
		thDot := step.Observation.AtVec(3)
		if sign == 0 {
			assert.Equal(t, 0.0, xDot)
			assert.Equal(t, 0.0, thDot)
		} else {
			assert.Equal(t, sign, math.Copysign(1, xDot))
			assert.Equal(t, -sign, math.Copysign(1, thDot))
		}
		assert.Equal(t, 1.0, step.Reward)
	}
}

func TestEpisodeEnds(t *testing.T) {
	// Pole just past the fail angle falls over on the first step
	c := newCartpole(t, []float64{0, 0, FailAngle, 1}, 100)
	_, err := c.Reset()
	require.NoError(t, err)

	step, err := c.Step(1)
	require.NoError(t, err)
	assert.True(t, step.Last())
	assert.Equal(t, ts.TerminalStateReached, step.EndType())
	assert.Equal(t, -1.0, step.Reward)

	_, err = c.Step(1)
	assert.Error(t, err, "step after episode end")

	// Balanced pole times out
	c = newCartpole(t, []float64{0, 0, 0, 0}, 3)
	_, err = c.Reset()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		step, err = c.Step(1)
		require.NoError(t, err)
	}
	assert.True(t, step.Last())
	assert.Equal(t, ts.Timeout, step.EndType())
}

func TestInvalidStartState(t *testing.T) {
	c := newCartpole(t, []float64{2 * PositionBounds, 0, 0, 0}, 10)
	_, err := c.Reset()
	assert.Error(t, err)

	c = newCartpole(t, []float64{0, 0}, 10)
	_, err = c.Reset()
	assert.Error(t, err)
}

func TestNormalizeAngle(t *testing.T) {
	c := New(nil, 1)
	assert.InDelta(t, -math.Pi+0.1, normalizeAngle(math.Pi+0.1, c.angleBounds),
		1e-12)
	assert.InDelta(t, math.Pi-0.1, normalizeAngle(-math.Pi-0.1, c.angleBounds),
		1e-12)
	assert.Equal(t, 0.5, normalizeAngle(0.5, c.angleBounds))
}
