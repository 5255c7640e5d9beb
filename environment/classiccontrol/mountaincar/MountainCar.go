// Package mountaincar implements the discrete action classic control
// environment "Mountain Car"
package mountaincar

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	env "github.com/samuelfneumann/phasic/environment"
	ts "github.com/samuelfneumann/phasic/timestep"
	"github.com/samuelfneumann/phasic/utils/floatutils"
)

const (
	MinPosition float64 = -1.2
	MaxPosition float64 = 0.6
	MaxSpeed    float64 = 0.07
	Power       float64 = 0.0015 // Engine power
	Gravity     float64 = 0.0025

	ObservationDims int = 2
	NumActions      int = 3
)

// MountainCar implements the classic control Mountain Car environment.
// In this environment, the agent controls a car in a valley between two
// hills. The car is underpowered and cannot drive up the hill unless
// it rocks back and forth from hill to hill, using its momentum to
// gradually climb higher.
//
// State features consist of the x position of the car and its velocity.
// These features are bounded by the MinPosition, MaxPosition, and
// MaxSpeed constants defined in this package. Upon reaching the minimum
// position, the velocity of the car is set to 0.
//
// Actions are discrete and determine in which direction to apply full
// accelerating force to the car:
//
//	Action	Meaning
//	  0		Accelerate left
//	  1		Do nothing
//	  2		Accelerate right
type MountainCar struct {
	env.Task
	positionBounds r1.Interval
	speedBounds    r1.Interval
	lastStep       ts.TimeStep
	discount       float64
	power          float64
	gravity        float64
}

// New creates a new Mountain Car environment with the argument task.
// The environment must be Reset before it is stepped.
func New(t env.Task, discount float64) *MountainCar {
	return &MountainCar{
		Task:           t,
		positionBounds: r1.Interval{Min: MinPosition, Max: MaxPosition},
		speedBounds:    r1.Interval{Min: -MaxSpeed, Max: MaxSpeed},
		lastStep:       ts.TimeStep{StepType: ts.Last},
		discount:       discount,
		power:          Power,
		gravity:        Gravity,
	}
}

// ObservationSize implements the environment.Environment interface
func (m *MountainCar) ObservationSize() int { return ObservationDims }

// NumActions implements the environment.Environment interface
func (m *MountainCar) NumActions() int { return NumActions }

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (m *MountainCar) Reset() (ts.TimeStep, error) {
	state := m.Start()
	if err := m.validateState(state); err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: %w", err)
	}
	m.lastStep = ts.New(ts.First, 0, m.discount, state, 0)

	return m.lastStep, nil
}

// Step takes one environmental step given an action
func (m *MountainCar) Step(action int) (ts.TimeStep, error) {
	if action < 0 || action >= NumActions {
		return ts.TimeStep{}, fmt.Errorf("step: %w %v ∉ {0, 1, 2}",
			env.ErrIllegalAction, action)
	}
	if m.lastStep.Last() {
		return ts.TimeStep{}, fmt.Errorf("step: episode ended, call Reset")
	}

	state := m.lastStep.Observation
	newState := m.nextState(float64(action - 1))

	reward := m.GetReward(state, action, newState)
	nextStep := ts.New(ts.Mid, reward, m.discount, newState,
		m.lastStep.Number+1)

	// Check if the step is the last in the episode and adjust step type
	// if necessary
	m.End(&nextStep)

	m.lastStep = nextStep
	return nextStep, nil
}

// nextState calculates the next state in the environment given force
func (m *MountainCar) nextState(force float64) *mat.VecDense {
	state := m.lastStep.Observation
	position, velocity := state.AtVec(0), state.AtVec(1)

	// Update the velocity
	velocity += force*m.power - m.gravity*math.Cos(3*position)
	velocity = floatutils.Clip(velocity, m.speedBounds.Min, m.speedBounds.Max)

	// Update the position
	position += velocity
	position = floatutils.Clip(position, m.positionBounds.Min,
		m.positionBounds.Max)

	if position <= m.positionBounds.Min && velocity < 0 {
		velocity = 0
	}

	return mat.NewVecDense(ObservationDims, []float64{position, velocity})
}

// String returns a string representation of the environment
func (m *MountainCar) String() string {
	str := "Mountain Car  |  Position: %v  |  Speed: %v"
	state := m.lastStep.Observation
	if state == nil {
		return "Mountain Car"
	}
	return fmt.Sprintf(str, state.AtVec(0), state.AtVec(1))
}

// validateState validates the state to ensure the position and speed
// are within the environmental limits
func (m *MountainCar) validateState(s mat.Vector) error {
	if s.Len() != ObservationDims {
		return fmt.Errorf("state has %d features, want %d", s.Len(),
			ObservationDims)
	}

	position := s.AtVec(0)
	if position < m.positionBounds.Min || position > m.positionBounds.Max {
		return fmt.Errorf("illegal position %v ∉ [%v, %v]", position,
			m.positionBounds.Min, m.positionBounds.Max)
	}

	speed := s.AtVec(1)
	if speed < m.speedBounds.Min || speed > m.speedBounds.Max {
		return fmt.Errorf("illegal speed %v ∉ [%v, %v]", speed,
			m.speedBounds.Min, m.speedBounds.Max)
	}
	return nil
}
