package pendulum

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"github.com/samuelfneumann/phasic/environment"
)

// SwingUp implements a task where the agent must swing the pendulum up
// and hold it in a vertical position. Rewards are the cosine of the
// pendulum angle measured from the positive y-axis, so that holding
// the pendulum straight up gives a reward of 1.0 on each timestep.
//
// Episodes end only after a step limit.
type SwingUp struct {
	environment.Starter
	*environment.StepLimit
}

// NewSwingUp creates and returns a new SwingUp task
func NewSwingUp(s environment.Starter, episodeSteps int) *SwingUp {
	return &SwingUp{s, environment.NewStepLimit(episodeSteps)}
}

// GetReward returns the cosine of the pendulum angle in the next state
func (s *SwingUp) GetReward(_ *mat.VecDense, _ int,
	nextState *mat.VecDense) float64 {
	return math.Cos(nextState.AtVec(0))
}
