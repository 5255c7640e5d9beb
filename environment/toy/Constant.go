// Package toy implements small environments with known values, used
// to check that learners fit them
package toy

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	env "github.com/samuelfneumann/phasic/environment"
	ts "github.com/samuelfneumann/phasic/timestep"
)

const (
	NumActions int = 2
)

// Constant is an environment with a single observation [1] and two
// actions, both of which give a reward of 1. Episodes only end at the
// step limit, and a limit of 0 means episodes never end.
type Constant struct {
	stepLimit *env.StepLimit
	discount  float64
	lastStep  ts.TimeStep
}

// NewConstant returns a new Constant environment
func NewConstant(episodeSteps int, discount float64) *Constant {
	return &Constant{
		stepLimit: env.NewStepLimit(episodeSteps),
		discount:  discount,
		lastStep:  ts.TimeStep{StepType: ts.Last},
	}
}

// ObservationSize implements the environment.Environment interface
func (c *Constant) ObservationSize() int { return 1 }

// NumActions implements the environment.Environment interface
func (c *Constant) NumActions() int { return NumActions }

// Reset implements the environment.Environment interface
func (c *Constant) Reset() (ts.TimeStep, error) {
	c.lastStep = ts.New(ts.First, 0, c.discount, observation(), 0)
	return c.lastStep, nil
}

// Step implements the environment.Environment interface
func (c *Constant) Step(action int) (ts.TimeStep, error) {
	if action < 0 || action >= NumActions {
		return ts.TimeStep{}, fmt.Errorf("step: %w %v ∉ {0, 1}",
			env.ErrIllegalAction, action)
	}
	if c.lastStep.Last() {
		return ts.TimeStep{}, fmt.Errorf("step: episode ended, call Reset")
	}

	step := ts.New(ts.Mid, 1, c.discount, observation(), c.lastStep.Number+1)
	c.stepLimit.End(&step)
	c.lastStep = step
	return step, nil
}

func observation() *mat.VecDense {
	return mat.NewVecDense(1, []float64{1})
}
