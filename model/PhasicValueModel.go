// Package model implements the phasic policy-value network: a
// categorical policy and a state value function, optionally sharing a
// trunk, plus an auxiliary value head used during distillation.
//
// A PhasicValueModel owns the canonical copy of the parameters as
// plain float64 slices. Computational graphs are built per phase and
// per batch size as Views, which copy parameters in with Pull and out
// with Push.
package model

import (
	"fmt"

	"github.com/samuelfneumann/phasic/initwfn"
	"github.com/samuelfneumann/phasic/network"
	"gonum.org/v1/gonum/floats"
)

// headScale scales the initial weights of the output heads so that the
// initial policy is close to uniform and the initial values near zero
const headScale = 0.1

// Config describes the layout of a PhasicValueModel
type Config struct {
	Arch       Arch
	ObsSize    int
	NumActions int
	Hidden     []int
	Activation *network.Activation
	Init       *initwfn.InitWFn
}

// Validate checks the Config for consistency
func (c Config) Validate() error {
	if c.ObsSize <= 0 {
		return fmt.Errorf("validate: observation size must be positive")
	}
	if c.NumActions < 2 {
		return fmt.Errorf("validate: at least 2 actions required, got %v",
			c.NumActions)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("validate: hidden layer %d has size %v", i, h)
		}
	}
	if c.Arch < Shared || c.Arch > Dual {
		return fmt.Errorf("validate: unknown architecture %v", c.Arch)
	}
	return nil
}

// Descriptor is the serializable layout of a model, stored alongside
// parameters so that a checkpoint can be checked against the model it
// is restored into.
type Descriptor struct {
	Arch       string
	ObsSize    int
	NumActions int
	Hidden     []int
	Activation *network.Activation
}

// Descriptor returns the layout of the Config
func (c Config) Descriptor() Descriptor {
	act := c.Activation
	if act == nil {
		act = network.Identity()
	}
	return Descriptor{
		Arch:       c.Arch.String(),
		ObsSize:    c.ObsSize,
		NumActions: c.NumActions,
		Hidden:     append([]int(nil), c.Hidden...),
		Activation: act,
	}
}

// Compatible returns an error if a model described by d cannot hold
// the parameters of a model described by other
func (d Descriptor) Compatible(other Descriptor) error {
	if d.Arch != other.Arch || d.ObsSize != other.ObsSize ||
		d.NumActions != other.NumActions || len(d.Hidden) != len(other.Hidden) {
		return fmt.Errorf("compatible: model %+v cannot hold %+v", d, other)
	}
	for i := range d.Hidden {
		if d.Hidden[i] != other.Hidden[i] {
			return fmt.Errorf("compatible: hidden layer %d: %v != %v", i,
				d.Hidden[i], other.Hidden[i])
		}
	}
	if d.Activation.String() != other.Activation.String() {
		return fmt.Errorf("compatible: activation %v != %v", d.Activation,
			other.Activation)
	}
	return nil
}

// PhasicValueModel maps observations to action logits, a value
// estimate, and an auxiliary value estimate.
type PhasicValueModel struct {
	config Config
	params *Params
}

// New creates a PhasicValueModel with freshly initialized parameters.
// Weights are drawn from the configured initializer and biases are set
// to zero.
func New(c Config) (*PhasicValueModel, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	if c.Init == nil {
		init, err := initwfn.Parse(string(initwfn.GlorotU), 1.0)
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		c.Init = init
	}
	if c.Activation == nil {
		c.Activation = network.ReLU()
	}

	var tensors []Tensor
	for _, l := range layout(c) {
		w, err := c.Init.Float64s(l.in, l.out)
		if err != nil {
			return nil, fmt.Errorf("new: %v: %w", l.prefix, err)
		}
		if l.head {
			floats.Scale(headScale, w)
		}

		tensors = append(tensors,
			Tensor{Name: l.prefix + "/w", Shape: []int{l.in, l.out}, Data: w},
			Tensor{Name: l.prefix + "/b", Shape: []int{1, l.out},
				Data: make([]float64, l.out)},
		)
	}

	return &PhasicValueModel{config: c, params: newParams(tensors)}, nil
}

// Config returns the model's configuration
func (m *PhasicValueModel) Config() Config {
	return m.config
}

// Params returns the canonical parameters. Views read and write them
// with Pull and Push.
func (m *PhasicValueModel) Params() *Params {
	return m.params
}

// SetParams overwrites the model's parameters with those of p
func (m *PhasicValueModel) SetParams(p *Params) error {
	return m.params.CopyFrom(p)
}

// layer describes one fully connected layer of the model
type layer struct {
	prefix  string
	in, out int
	head    bool
}

// trunkLayers returns the hidden layers of the trunk with the given
// prefix and its output size.
func trunkLayers(prefix string, c Config) ([]layer, int) {
	in := c.ObsSize
	layers := make([]layer, 0, len(c.Hidden))
	for i, h := range c.Hidden {
		layers = append(layers, layer{
			prefix: fmt.Sprintf("%s/fc%d", prefix, i),
			in:     in,
			out:    h,
		})
		in = h
	}
	return layers, in
}

// layout lists every layer that the architecture owns
func layout(c Config) []layer {
	layers, piOut := trunkLayers(piPrefix, c)
	layers = append(layers, layer{prefix: logitsName, in: piOut,
		out: c.NumActions, head: true})

	vfOut := piOut
	if c.Arch == Dual {
		var vfLayers []layer
		vfLayers, vfOut = trunkLayers(vfPrefix, c)
		layers = append(layers, vfLayers...)
	}
	layers = append(layers, layer{prefix: valueName, in: vfOut, out: 1,
		head: true})

	if c.Arch.HasAuxHead() {
		layers = append(layers, layer{prefix: auxName, in: piOut, out: 1,
			head: true})
	}
	return layers
}

const (
	piPrefix   = "pi"
	vfPrefix   = "vf"
	logitsName = "pi/logits"
	valueName  = "vf/head"
	auxName    = "aux/head"
)
