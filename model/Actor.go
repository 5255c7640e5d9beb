package model

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Actor runs forward passes of a Rollout View to produce action logits
// and value estimates for a fixed batch of observations.
type Actor struct {
	view *View
	vm   G.VM

	logitsVal G.Value
	valueVal  G.Value
}

// NewActor returns an Actor for batches of the given size
func NewActor(m *PhasicValueModel, batch int) (*Actor, error) {
	view, err := m.NewView(batch, Rollout)
	if err != nil {
		return nil, fmt.Errorf("newActor: %w", err)
	}

	a := &Actor{view: view}
	G.Read(view.Logits(), &a.logitsVal)
	G.Read(view.Value(), &a.valueVal)
	a.vm = G.NewTapeMachine(view.Graph())

	return a, nil
}

// Batch returns the number of observations per forward pass
func (a *Actor) Batch() int {
	return a.view.Batch()
}

// Act pulls the model's current parameters and evaluates the
// observations, given row-major as (batch, obs). It returns the
// row-major (batch, actions) logits and the (batch) value estimates.
func (a *Actor) Act(obs []float64) (logits, values []float64, err error) {
	if err := a.view.Pull(); err != nil {
		return nil, nil, fmt.Errorf("act: %w", err)
	}
	if err := a.view.SetObs(obs); err != nil {
		return nil, nil, fmt.Errorf("act: %w", err)
	}

	defer a.vm.Reset()
	if err := a.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("act: %w", err)
	}

	logits = append([]float64(nil), a.logitsVal.Data().([]float64)...)
	values = append([]float64(nil), a.valueVal.Data().([]float64)...)
	return logits, values, nil
}

// Close releases the resources of the underlying tape machine
func (a *Actor) Close() error {
	return a.vm.Close()
}
