package ppg

import (
	"context"
	"fmt"
	"math"

	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/model"
	"github.com/samuelfneumann/phasic/utils/floatutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// learner applies synchronized optimizer steps to the learnables of a
// View. Every step computes local gradients, averages them over the
// process group, and applies the averaged gradient on every rank, so
// parameters stay identical across ranks.
type learner struct {
	view   *model.View
	vm     G.VM
	solver G.Solver
	comm   dist.Comm
	verify bool
	hook   StepHook

	numGrads int
	buf      []float64
	flat     []float64
}

func newLearner(view *model.View, loss *G.Node, s G.Solver, comm dist.Comm,
	verify bool, hook StepHook) (*learner, error) {
	if _, err := G.Grad(loss, view.Learnables()...); err != nil {
		return nil, fmt.Errorf("newLearner: could not compute gradient: %w",
			err)
	}
	vm := G.NewTapeMachine(view.Graph(),
		G.BindDualValues(view.Learnables()...))

	return &learner{
		view:     view,
		vm:       vm,
		solver:   s,
		comm:     comm,
		verify:   verify,
		hook:     hook,
		numGrads: view.NumLearnable(),
	}, nil
}

// run pulls the current parameters and runs the graph on the inputs
// that have been set. Gradients are computed from zero on every run. A
// successful run must be followed by apply.
func (l *learner) run() error {
	if err := l.view.Pull(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	l.view.ZeroGradients()
	if err := l.vm.RunAll(); err != nil {
		l.vm.Reset()
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// apply averages the gradients of the last run, together with stats,
// over the process group and applies the averaged gradients. On return
// stats hold their group means.
func (l *learner) apply(ctx context.Context, stats []float64) error {
	defer l.vm.Reset()

	grads, err := l.view.Gradients(l.buf[:0])
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	l.buf = append(grads, stats...)

	if err := l.comm.AllReduceMean(ctx, l.buf); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if !floatutils.AllFinite(l.buf) {
		return fmt.Errorf("apply: %w: non-finite loss or gradient",
			ErrNumericalDivergence)
	}
	copy(stats, l.buf[l.numGrads:])

	if err := l.view.SetGradients(l.buf[:l.numGrads]); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if err := l.solver.Step(G.NodesToValueGrads(l.view.Learnables())); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if err := l.view.Push(); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	if l.verify {
		l.flat = l.view.Model().Params().Flatten(l.flat)
		if err := dist.VerifyIdentical(ctx, l.comm, l.flat); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}
	if l.hook != nil {
		if err := l.hook(ctx, l.view.Phase(), l.view.Model()); err != nil {
			return fmt.Errorf("apply: hook: %w", err)
		}
	}
	return nil
}

// close releases the tape machine
func (l *learner) close() error {
	return l.vm.Close()
}

// newInput adds an input node of the given shape to the View's graph.
// A shape of length 0 adds a scalar.
func newInput(view *model.View, name string, shape ...int) *G.Node {
	g := view.Graph()
	switch len(shape) {
	case 0:
		return G.NewScalar(g, tensor.Float64, G.WithName(name),
			G.WithValue(0.0))
	case 1:
		return G.NewVector(g, tensor.Float64, G.WithShape(shape...),
			G.WithName(name), G.WithInit(G.Zeroes()))
	default:
		return G.NewMatrix(g, tensor.Float64, G.WithShape(shape...),
			G.WithName(name), G.WithInit(G.Zeroes()))
	}
}

// setInput binds data to an input node created by newInput
func setInput(n *G.Node, data []float64) error {
	if n.IsScalar() {
		if len(data) != 1 {
			return fmt.Errorf("setInput: %v: scalar given %d values", n.Name(),
				len(data))
		}
		return G.Let(n, data[0])
	}
	if n.Shape().TotalSize() != len(data) {
		return fmt.Errorf("setInput: %v: illegal length \n\twant(%v)"+
			"\n\thave(%v)", n.Name(), n.Shape().TotalSize(), len(data))
	}
	t := tensor.New(tensor.WithBacking(data), tensor.WithShape(n.Shape()...))
	return G.Let(n, t)
}

// halfMSE returns ½·mean((pred − target)²)
func halfMSE(pred, target *G.Node) *G.Node {
	diff := G.Must(G.Sub(pred, target))
	mse := G.Must(G.Mean(G.Must(G.Square(diff))))
	return G.Must(G.Mul(G.NewConstant(0.5), mse))
}

// scale returns coef·x for a scalar node x
func scale(coef float64, x *G.Node) *G.Node {
	return G.Must(G.Mul(G.NewConstant(coef), x))
}

// values returns the data of a value as a slice
func values(v G.Value) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case float64:
		return []float64{data}
	}
	return nil
}

// scalar returns the data of a single-element value
func scalar(v G.Value) float64 {
	if data := values(v); len(data) == 1 {
		return data[0]
	}
	return math.NaN()
}
