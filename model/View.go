package model

import (
	"fmt"

	"github.com/samuelfneumann/phasic/network"
	"github.com/samuelfneumann/phasic/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// View is the computational graph of a PhasicValueModel for a fixed
// batch size and training phase. Callers add their loss to Graph,
// differentiate it w.r.t. Learnables, and run it on a tape machine.
//
// In a PolicyPhase view of a Detach model, the value head reads the
// trunk through frozen copies of the trunk weights, so the value loss
// produces no gradient on the trunk. PolicyPhase views never contain
// the auxiliary value head.
type View struct {
	model *PhasicValueModel
	phase Phase
	batch int

	g        *G.ExprGraph
	obs      *G.Node
	logits   *G.Node
	logProbs *G.Node
	value    *G.Node
	auxValue *G.Node

	nodes      map[string]*G.Node
	frozen     map[string]*G.Node
	learnables G.Nodes
	names      []string
}

// NewView builds the graph of the model for the given batch size and
// phase and pulls the current parameters into it.
func (m *PhasicValueModel) NewView(batch int, phase Phase) (*View, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("newView: batch size must be positive, got "+
			"%v", batch)
	}

	c := m.config
	g := G.NewGraph()
	v := &View{
		model:  m,
		phase:  phase,
		batch:  batch,
		g:      g,
		nodes:  make(map[string]*G.Node),
		frozen: make(map[string]*G.Node),
	}

	v.obs = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, c.ObsSize),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	piFeatures, err := v.trunk(piPrefix, v.param)
	if err != nil {
		return nil, fmt.Errorf("newView: %w", err)
	}
	if v.logits, err = v.head(logitsName, piFeatures, v.param); err != nil {
		return nil, fmt.Errorf("newView: %w", err)
	}
	v.logProbs = op.LogSoftmax(v.logits)

	var vfFeatures *G.Node
	switch {
	case c.Arch == Dual:
		vfFeatures, err = v.trunk(vfPrefix, v.param)
	case c.Arch == Detach && phase == PolicyPhase:
		vfFeatures, err = v.trunk(piPrefix, v.frozenParam)
	default:
		vfFeatures = piFeatures
	}
	if err != nil {
		return nil, fmt.Errorf("newView: %w", err)
	}

	value, err := v.head(valueName, vfFeatures, v.param)
	if err != nil {
		return nil, fmt.Errorf("newView: %w", err)
	}
	if v.value, err = G.Reshape(value, tensor.Shape{batch}); err != nil {
		return nil, fmt.Errorf("newView: %w", err)
	}

	if c.Arch.HasAuxHead() && phase == AuxPhase {
		aux, err := v.head(auxName, piFeatures, v.param)
		if err != nil {
			return nil, fmt.Errorf("newView: %w", err)
		}
		if v.auxValue, err = G.Reshape(aux, tensor.Shape{batch}); err != nil {
			return nil, fmt.Errorf("newView: %w", err)
		}
	}

	// Learnables follow the canonical parameter order
	for _, name := range m.params.Names() {
		if n, ok := v.nodes[name]; ok {
			v.learnables = append(v.learnables, n)
			v.names = append(v.names, name)
		}
	}

	if err := v.Pull(); err != nil {
		return nil, fmt.Errorf("newView: %w", err)
	}
	return v, nil
}

// nodeFn returns the graph node holding the named parameter
type nodeFn func(name string) (*G.Node, error)

// param returns the learnable node of a parameter, creating it if
// needed
func (v *View) param(name string) (*G.Node, error) {
	if n, ok := v.nodes[name]; ok {
		return n, nil
	}
	n, err := v.newParamNode(name, name)
	if err != nil {
		return nil, err
	}
	v.nodes[name] = n
	return n, nil
}

// frozenParam returns a node holding a copy of a parameter that is
// never differentiated
func (v *View) frozenParam(name string) (*G.Node, error) {
	if n, ok := v.frozen[name]; ok {
		return n, nil
	}
	n, err := v.newParamNode(name, "frozen/"+name)
	if err != nil {
		return nil, err
	}
	v.frozen[name] = n
	return n, nil
}

func (v *View) newParamNode(param, nodeName string) (*G.Node, error) {
	t, ok := v.model.params.Get(param)
	if !ok {
		return nil, fmt.Errorf("no parameter %q", param)
	}
	return G.NewMatrix(
		v.g,
		tensor.Float64,
		G.WithShape(t.Shape...),
		G.WithName(nodeName),
		G.WithInit(G.Zeroes()),
	), nil
}

// dense returns the fully connected layer with the given prefix
func (v *View) dense(prefix string, get nodeFn,
	act *network.Activation) (*network.Dense, error) {
	w, err := get(prefix + "/w")
	if err != nil {
		return nil, err
	}
	b, err := get(prefix + "/b")
	if err != nil {
		return nil, err
	}
	return network.NewDense(w, b, act)
}

// trunk adds the hidden layers with the given prefix to the graph
func (v *View) trunk(prefix string, get nodeFn) (*G.Node, error) {
	layers, _ := trunkLayers(prefix, v.model.config)

	mlp := make(network.MLP, len(layers))
	for i, l := range layers {
		d, err := v.dense(l.prefix, get, v.model.config.Activation)
		if err != nil {
			return nil, fmt.Errorf("trunk: %w", err)
		}
		mlp[i] = d
	}
	return mlp.Fwd(v.obs)
}

// head adds a linear output layer to the graph
func (v *View) head(prefix string, features *G.Node,
	get nodeFn) (*G.Node, error) {
	d, err := v.dense(prefix, get, network.Identity())
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	return d.Fwd(features)
}

// Graph returns the computational graph of the View
func (v *View) Graph() *G.ExprGraph { return v.g }

// Batch returns the number of observations the View processes at once
func (v *View) Batch() int { return v.batch }

// Phase returns the phase the View was built for
func (v *View) Phase() Phase { return v.phase }

// Model returns the model the View was built from
func (v *View) Model() *PhasicValueModel { return v.model }

// Obs returns the (batch, obs) input node
func (v *View) Obs() *G.Node { return v.obs }

// Logits returns the (batch, actions) policy logits
func (v *View) Logits() *G.Node { return v.logits }

// LogProbs returns the (batch, actions) log-softmax of the logits
func (v *View) LogProbs() *G.Node { return v.logProbs }

// Value returns the (batch) value estimates
func (v *View) Value() *G.Node { return v.value }

// AuxValue returns the (batch) auxiliary value estimates, or nil if the
// View has no auxiliary head
func (v *View) AuxValue() *G.Node { return v.auxValue }

// Learnables returns the differentiable parameter nodes in canonical
// order
func (v *View) Learnables() G.Nodes { return v.learnables }

// LearnableNames returns the parameter names of Learnables
func (v *View) LearnableNames() []string { return v.names }

// SetObs sets the input observations, given row-major as
// (batch, obs)
func (v *View) SetObs(obs []float64) error {
	if want := v.batch * v.model.config.ObsSize; len(obs) != want {
		return fmt.Errorf("setObs: illegal observation length \n\twant(%v)"+
			"\n\thave(%v)", want, len(obs))
	}
	obsTensor := tensor.New(
		tensor.WithBacking(obs),
		tensor.WithShape(v.obs.Shape()...),
	)
	return G.Let(v.obs, obsTensor)
}

// Pull copies the model's parameters into the View's nodes
func (v *View) Pull() error {
	for _, nodes := range []map[string]*G.Node{v.nodes, v.frozen} {
		for name, n := range nodes {
			t, _ := v.model.params.Get(name)
			data, err := nodeData(n)
			if err != nil {
				return fmt.Errorf("pull: %v: %w", name, err)
			}
			copy(data, t.Data)
		}
	}
	return nil
}

// Push copies the values of the View's learnable nodes into the
// model's parameters
func (v *View) Push() error {
	for i, n := range v.learnables {
		t, _ := v.model.params.Get(v.names[i])
		data, err := nodeData(n)
		if err != nil {
			return fmt.Errorf("push: %v: %w", v.names[i], err)
		}
		copy(t.Data, data)
	}
	return nil
}

// nodeData returns the backing slice of a node's value
func nodeData(n *G.Node) ([]float64, error) {
	if n.Value() == nil {
		return nil, fmt.Errorf("node %v has no value", n.Name())
	}
	data, ok := n.Value().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("node %v does not hold float64 values",
			n.Name())
	}
	return data, nil
}

// Gradients copies the gradients of the learnables, in canonical order,
// into dst. It must be called after running a tape machine on a graph
// differentiated w.r.t. Learnables.
func (v *View) Gradients(dst []float64) ([]float64, error) {
	dst = dst[:0]
	for i, n := range v.learnables {
		grad, err := n.Grad()
		if err != nil {
			return nil, fmt.Errorf("gradients: %v: %w", v.names[i], err)
		}
		dst = append(dst, grad.Data().([]float64)...)
	}
	return dst, nil
}

// SetGradients overwrites the gradients of the learnables from src, in
// canonical order.
func (v *View) SetGradients(src []float64) error {
	var offset int
	for i, n := range v.learnables {
		grad, err := n.Grad()
		if err != nil {
			return fmt.Errorf("setGradients: %v: %w", v.names[i], err)
		}
		data := grad.Data().([]float64)
		if offset+len(data) > len(src) {
			return fmt.Errorf("setGradients: source too short")
		}
		offset += copy(data, src[offset:offset+len(data)])
	}
	if offset != len(src) {
		return fmt.Errorf("setGradients: illegal length \n\twant(%v)"+
			"\n\thave(%v)", offset, len(src))
	}
	return nil
}

// ZeroGradients zeroes the gradients of the learnables. Learnables that
// have no gradient yet are skipped.
func (v *View) ZeroGradients() {
	for _, n := range v.learnables {
		grad, err := n.Grad()
		if err != nil {
			continue
		}
		data := grad.Data().([]float64)
		for i := range data {
			data[i] = 0
		}
	}
}

// NumLearnable returns the number of scalars over all learnables
func (v *View) NumLearnable() int {
	var n int
	for _, name := range v.names {
		t, _ := v.model.params.Get(name)
		n += len(t.Data)
	}
	return n
}
