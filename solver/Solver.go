// Package solver selects Gorgonia Solvers by name so that the policy
// and auxiliary phases can be configured with any of them.
package solver

import (
	"fmt"
	"strings"

	G "gorgonia.org/gorgonia"
)

// Kind names a Gorgonia Solver
type Kind string

// Available solver kinds
const (
	Adam    Kind = "adam"
	RMSProp Kind = "rmsprop"
	Vanilla Kind = "sgd"
)

// Hyperparameters shared by every solver of a Kind. Gradients are not
// rescaled by the solvers, so losses should already be averaged over
// the minibatch.
const (
	adamEps     = 1e-8
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	rmsPropEps  = 1e-8
	rmsPropRho  = 0.999
	batchFactor = 1
)

// Solver is a Gorgonia Solver together with its Kind and step size
type Solver struct {
	G.Solver
	kind     Kind
	stepSize float64
}

// New returns a Solver of the named Kind with the given step size.
// Names are case-insensitive, and "vanilla" is accepted for sgd.
func New(name string, stepSize float64) (*Solver, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("new: step size must be positive, got %v",
			stepSize)
	}

	s := &Solver{stepSize: stepSize}
	switch Kind(strings.ToLower(name)) {
	case Adam:
		s.kind = Adam
		s.Solver = G.NewAdamSolver(
			G.WithLearnRate(stepSize),
			G.WithEps(adamEps),
			G.WithBeta1(adamBeta1),
			G.WithBeta2(adamBeta2),
			G.WithBatchSize(batchFactor),
		)
	case RMSProp:
		s.kind = RMSProp
		s.Solver = G.NewRMSPropSolver(
			G.WithLearnRate(stepSize),
			G.WithEps(rmsPropEps),
			G.WithRho(rmsPropRho),
			G.WithBatchSize(batchFactor),
		)
	case Vanilla, "vanilla":
		s.kind = Vanilla
		s.Solver = G.NewVanillaSolver(
			G.WithLearnRate(stepSize),
			G.WithBatchSize(batchFactor),
		)
	default:
		return nil, fmt.Errorf("new: unknown solver type %q", name)
	}
	return s, nil
}

// Kind returns the kind of the solver
func (s *Solver) Kind() Kind {
	return s.kind
}

// StepSize returns the learning rate of the solver
func (s *Solver) StepSize() float64 {
	return s.stepSize
}

// String implements the fmt.Stringer interface
func (s *Solver) String() string {
	return fmt.Sprintf("%v(lr=%v)", s.kind, s.stepSize)
}
