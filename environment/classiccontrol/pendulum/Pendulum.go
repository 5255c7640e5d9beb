// Package pendulum implements the Pendulum classic control environment
// with a discrete set of torques
package pendulum

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
	AngleBound  float64 = math.Pi // +/- Angle bounds
	SpeedBound  float64 = 8.0     // +/- Speed bounds
	TorqueBound float64 = 2.0     // +/- Torque bounds

	Dt      float64 = 0.05
	Gravity float64 = 9.8
	Mass    float64 = 1.0
	Length  float64 = 1.0

	ObservationDims int = 2
	NumActions      int = 5
)

// Pendulum implements the classic control environment Pendulum. A
// pendulum is attached to a fixed base, and torque can be applied to
// the base to swing the pendulum.
//
// State features are the angle of the pendulum from the positive
// y-axis, normalized to [-π, π), and its angular velocity, clipped to
// [-SpeedBound, SpeedBound].
//
// Actions are discrete and evenly divide the legal torques:
//
//	Action	Meaning
//	  0		Torque -2
//	  1		Torque -1
//	  2		No torque
//	  3		Torque +1
//	  4		Torque +2
type Pendulum struct {
	env.Task
	lastStep    ts.TimeStep
	discount    float64
	angleBounds r1.Interval
	speedBounds r1.Interval
}

// New returns a new Pendulum environment. The environment must be
// Reset before it is stepped.
func New(t env.Task, discount float64) *Pendulum {
	return &Pendulum{
		Task:        t,
		lastStep:    ts.TimeStep{StepType: ts.Last},
		discount:    discount,
		angleBounds: r1.Interval{Min: -AngleBound, Max: AngleBound},
		speedBounds: r1.Interval{Min: -SpeedBound, Max: SpeedBound},
	}
}

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (p *Pendulum) Reset() (ts.TimeStep, error) {
	state := p.Start()
	if state.Len() != ObservationDims {
		return ts.TimeStep{}, fmt.Errorf("reset: state has %d features, "+
			"want %d", state.Len(), ObservationDims)
	}
	if v := state.AtVec(1); v < p.speedBounds.Min || v > p.speedBounds.Max {
		return ts.TimeStep{}, fmt.Errorf("reset: speed %v is not within "+
			"bounds %v", v, p.speedBounds)
	}
	state.SetVec(0, floatutils.WrapInterval(state.AtVec(0), p.angleBounds))

	p.lastStep = ts.New(ts.First, 0, p.discount, state, 0)
	return p.lastStep, nil
}

// ObservationSize implements the environment.Environment interface
func (p *Pendulum) ObservationSize() int { return ObservationDims }

// NumActions implements the environment.Environment interface
func (p *Pendulum) NumActions() int { return NumActions }

// Torque returns the torque applied by a discrete action
func Torque(action int) float64 {
	half := (NumActions - 1) / 2
	return TorqueBound * float64(action-half) / float64(half)
}

// Step takes one environmental step given action a and returns the next
// state as a timestep.TimeStep
func (p *Pendulum) Step(action int) (ts.TimeStep, error) {
	if action < 0 || action >= NumActions {
		return ts.TimeStep{}, fmt.Errorf("step: %w %v ∉ {0, ..., %d}",
			env.ErrIllegalAction, action, NumActions-1)
	}
	if p.lastStep.Last() {
		return ts.TimeStep{}, fmt.Errorf("step: episode ended, call Reset")
	}

	state := p.lastStep.Observation
	th, thDot := state.AtVec(0), state.AtVec(1)
	torque := Torque(action)

	thDot += (-3*Gravity/(2*Length)*math.Sin(th+math.Pi) +
		3.0/(Mass*Length*Length)*torque) * Dt
	th += thDot * Dt

	thDot = floatutils.ClipInterval(thDot, p.speedBounds)
	th = floatutils.WrapInterval(th, p.angleBounds)

	newState := mat.NewVecDense(ObservationDims, []float64{th, thDot})
	reward := p.GetReward(state, action, newState)
	nextStep := ts.New(ts.Mid, reward, p.discount, newState,
		p.lastStep.Number+1)

	// Check if the step ends the episode
	p.End(&nextStep)

	p.lastStep = nextStep
	return nextStep, nil
}

func (p *Pendulum) String() string {
	state := p.lastStep.Observation
	if state == nil {
		return "Pendulum"
	}
	return fmt.Sprintf("Pendulum  |  theta: %v  |  theta dot: %v",
		state.AtVec(0), state.AtVec(1))
}
