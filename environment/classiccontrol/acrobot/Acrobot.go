// Package acrobot implements the Acrobot classic control environment
package acrobot

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
	Dt float64 = 0.2

	// Physical constants
	LinkLength1 float64 = 1.0 // Metres, length of link 1
	LinkLength2 float64 = 1.0 // Metres, length of link 2
	LinkMass1   float64 = 1.0 // Kg, mass of link 1
	LinkMass2   float64 = 1.0 // Kg, mass of link 2
	LinkCOMPos1 float64 = 0.5 // Metres, centre of mass link 1
	LinkCOMPos2 float64 = 0.5 // Metres, centre of mass link 2
	LinkMOI     float64 = 1.0 // Moments of inertia for both links
	MaxVel1     float64 = 4 * math.Pi
	MaxVel2     float64 = 9 * math.Pi
	Gravity     float64 = 9.8
	MaxAngle    float64 = math.Pi

	ObservationDims int = 4
	NumActions      int = 3
)

// Acrobot implements the classic control environment Acrobot. In this
// environment, a double hinged and double linked pendulum is attached
// to a single actuated fixed base. Torque can be applied to the joint
// between the links to swing the acrobot around.
//
// State features are the angles of both links, measured from the
// negative y-axis, and the angular velocities of both links:
//
//	s = [θ1, θ2, θ̇1, θ̇2]
//
// Angles are wrapped to [-π, π) and angular velocities are clipped to
// [-MaxVel1, MaxVel1] and [-MaxVel2, MaxVel2]. Dynamics follow the RL
// book.
//
// Actions are discrete and consist of the torque applied:
//
//	Action	Meaning
//	  0		Torque -1
//	  1		No torque
//	  2		Torque +1
type Acrobot struct {
	env.Task
	lastStep        ts.TimeStep
	discount        float64
	angleBounds     r1.Interval
	velocity1Bounds r1.Interval
	velocity2Bounds r1.Interval
}

// New returns a new Acrobot environment. The environment must be
// Reset before it is stepped.
func New(t env.Task, discount float64) *Acrobot {
	return &Acrobot{
		Task:            t,
		lastStep:        ts.TimeStep{StepType: ts.Last},
		discount:        discount,
		angleBounds:     r1.Interval{Min: -MaxAngle, Max: MaxAngle},
		velocity1Bounds: r1.Interval{Min: -MaxVel1, Max: MaxVel1},
		velocity2Bounds: r1.Interval{Min: -MaxVel2, Max: MaxVel2},
	}
}

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (a *Acrobot) Reset() (ts.TimeStep, error) {
	state := a.Start()
	if err := a.validateState(state); err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: %w", err)
	}

	a.lastStep = ts.New(ts.First, 0, a.discount, state, 0)
	return a.lastStep, nil
}

// ObservationSize implements the environment.Environment interface
func (a *Acrobot) ObservationSize() int { return ObservationDims }

// NumActions implements the environment.Environment interface
func (a *Acrobot) NumActions() int { return NumActions }

// Step takes one environmental step given action a and returns the next
// state as a timestep.TimeStep
func (a *Acrobot) Step(action int) (ts.TimeStep, error) {
	if action < 0 || action >= NumActions {
		return ts.TimeStep{}, fmt.Errorf("step: %w %v ∉ {0, 1, 2}",
			env.ErrIllegalAction, action)
	}
	if a.lastStep.Last() {
		return ts.TimeStep{}, fmt.Errorf("step: episode ended, call Reset")
	}

	state := a.lastStep.Observation
	torque := float64(action - 1)

	// Integrate the state augmented with the constant torque
	augmented := make([]float64, ObservationDims+1)
	copy(augmented, state.RawVector().Data)
	augmented[ObservationDims] = torque
	next := rk4(dsDt, augmented, Dt)[:ObservationDims]

	next[0] = floatutils.WrapInterval(next[0], a.angleBounds)
	next[1] = floatutils.WrapInterval(next[1], a.angleBounds)
	next[2] = floatutils.ClipInterval(next[2], a.velocity1Bounds)
	next[3] = floatutils.ClipInterval(next[3], a.velocity2Bounds)

	newState := mat.NewVecDense(ObservationDims, next)
	reward := a.GetReward(state, action, newState)
	nextStep := ts.New(ts.Mid, reward, a.discount, newState,
		a.lastStep.Number+1)

	// Check if the step ends the episode
	a.End(&nextStep)

	a.lastStep = nextStep
	return nextStep, nil
}

// validateState ensures that a state observation is within the bounds
// of the Acrobot environment
func (a *Acrobot) validateState(obs mat.Vector) error {
	if obs.Len() != ObservationDims {
		return fmt.Errorf("state has %d features, want %d", obs.Len(),
			ObservationDims)
	}

	bounds := []r1.Interval{a.angleBounds, a.angleBounds, a.velocity1Bounds,
		a.velocity2Bounds}
	names := []string{"angle 1", "angle 2", "angular velocity 1",
		"angular velocity 2"}
	for i, b := range bounds {
		if v := obs.AtVec(i); v < b.Min || v > b.Max {
			return fmt.Errorf("%s %v is not within bounds %v", names[i], v, b)
		}
	}
	return nil
}

func (a *Acrobot) String() string {
	state := a.lastStep.Observation
	if state == nil {
		return "Acrobot"
	}
	return fmt.Sprintf("Acrobot  |  θ1: %v  |  θ2: %v  |  θ̇1: %v  |  θ̇2: %v",
		state.AtVec(0), state.AtVec(1), state.AtVec(2), state.AtVec(3))
}

// dsDt calculates ds/dt of the state augmented with the applied torque
func dsDt(s []float64) []float64 {
	m1, m2 := LinkMass1, LinkMass2
	l1 := LinkLength1
	lc1, lc2 := LinkCOMPos1, LinkCOMPos2
	i1, i2 := LinkMOI, LinkMOI
	g := Gravity

	theta1, theta2 := s[0], s[1]
	dtheta1, dtheta2 := s[2], s[3]
	torque := s[4]

	d1 := m1*lc1*lc1 + m2*(l1*l1+lc2*lc2+2*l1*lc2*math.Cos(theta2)) +
		i1 + i2
	d2 := m2*(lc2*lc2+l1*lc2*math.Cos(theta2)) + i2

	phi2 := m2 * lc2 * g * math.Cos(theta1+theta2-math.Pi/2)
	phi1 := -m2*l1*lc2*dtheta2*dtheta2*math.Sin(theta2) -
		2*m2*l1*lc2*dtheta2*dtheta1*math.Sin(theta2) +
		(m1*lc1+m2*l1)*g*math.Cos(theta1-math.Pi/2) + phi2

	ddtheta2 := (torque + d2/d1*phi1 -
		m2*l1*lc2*dtheta1*dtheta1*math.Sin(theta2) - phi2) /
		(m2*lc2*lc2 + i2 - d2*d2/d1)
	ddtheta1 := -(d2*ddtheta2 + phi1) / d1

	// The torque is constant over the step
	return []float64{dtheta1, dtheta2, ddtheta1, ddtheta2, 0}
}

// rk4 integrates the system of ODEs derivs from y0 over a single step
// of length dt using 4th order Runge-Kutta
func rk4(derivs func([]float64) []float64, y0 []float64,
	dt float64) []float64 {
	n := len(y0)
	y0Vec := mat.NewVecDense(n, y0)
	input := mat.NewVecDense(n, nil)

	k1 := mat.NewVecDense(n, derivs(y0))

	input.AddScaledVec(y0Vec, dt/2, k1)
	k2 := mat.NewVecDense(n, derivs(input.RawVector().Data))

	input.AddScaledVec(y0Vec, dt/2, k2)
	k3 := mat.NewVecDense(n, derivs(input.RawVector().Data))

	input.AddScaledVec(y0Vec, dt, k3)
	k4 := mat.NewVecDense(n, derivs(input.RawVector().Data))

	out := mat.NewVecDense(n, nil)
	out.CopyVec(k1)
	out.AddScaledVec(out, 2, k2)
	out.AddScaledVec(out, 2, k3)
	out.AddVec(out, k4)
	out.AddScaledVec(y0Vec, dt/6, out)
	return out.RawVector().Data
}
