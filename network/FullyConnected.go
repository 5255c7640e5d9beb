// Package network implements the feed forward building blocks used by
// the policy and value networks.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Dense implements a fully connected layer of a feed forward neural
// network. The weights have shape (in, out) and the bias, if present,
// has shape (1, out).
type Dense struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// NewDense returns a new fully connected layer computing
// act(x·weights + bias). The bias may be nil.
func NewDense(weights, bias *G.Node, act *Activation) (*Dense, error) {
	if weights == nil {
		return nil, fmt.Errorf("newDense: weights cannot be nil")
	}
	if weights.Dims() != 2 {
		return nil, fmt.Errorf("newDense: weights must be a matrix, got "+
			"shape %v", weights.Shape())
	}
	if bias != nil {
		out := weights.Shape()[1]
		if bias.Dims() != 2 || bias.Shape()[0] != 1 || bias.Shape()[1] != out {
			return nil, fmt.Errorf("newDense: bias shape %v incompatible "+
				"with weights shape %v", bias.Shape(), weights.Shape())
		}
	}
	return &Dense{weights: weights, bias: bias, act: act}, nil
}

// Fwd adds the forward pass of the layer to the computational graph
func (d *Dense) Fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, d.weights)
	if err != nil {
		return nil, fmt.Errorf("fwd: %w", err)
	}
	if d.bias != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x, err = G.BroadcastAdd(x, d.bias, nil, []byte{0})
		if err != nil {
			return nil, fmt.Errorf("fwd: %w", err)
		}
	}
	return d.act.fwd(x)
}

// Weights returns the weight node of the layer
func (d *Dense) Weights() *G.Node {
	return d.weights
}

// Bias returns the bias node of the layer, or nil
func (d *Dense) Bias() *G.Node {
	return d.bias
}

// Activation returns the activation of the layer
func (d *Dense) Activation() *Activation {
	return d.act
}

// MLP is a stack of Dense layers applied in order
type MLP []*Dense

// Fwd adds the forward pass of every layer to the computational graph
func (m MLP) Fwd(x *G.Node) (*G.Node, error) {
	var err error
	for i, layer := range m {
		if x, err = layer.Fwd(x); err != nil {
			return nil, fmt.Errorf("fwd: layer %d: %w", i, err)
		}
	}
	return x, nil
}
