// Package environment outlines the interfaces and structs needed to
// implement concrete environments, as well as the vectorized
// environment that the rollout collector steps.
package environment

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"github.com/samuelfneumann/phasic/timestep"
)

// ErrIllegalAction is returned when an environment is stepped with an
// action outside its action set
var ErrIllegalAction = errors.New("illegal action")

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Ender determines when an episode ends. If the episode should end,
// End modifies the argument TimeStep so that its StepType is
// timestep.Last and returns true.
type Ender interface {
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme, the starting state distribution,
// and the episode termination of some environment
type Task interface {
	Starter
	Ender
	GetReward(state *mat.VecDense, action int, nextState *mat.VecDense) float64
}

// Environment implements a single simulated environment with a
// discrete action set {0, 1, ..., NumActions()-1}
type Environment interface {
	// Reset starts a new episode
	Reset() (timestep.TimeStep, error)

	// Step takes one step in the current episode. Stepping after the
	// last step of an episode without calling Reset is an error.
	Step(action int) (timestep.TimeStep, error)

	ObservationSize() int
	NumActions() int
}
