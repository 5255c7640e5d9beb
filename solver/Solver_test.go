package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestNew(t *testing.T) {
	tests := map[string]Kind{
		"adam":    Adam,
		"Adam":    Adam,
		"RMSProp": RMSProp,
		"sgd":     Vanilla,
		"Vanilla": Vanilla,
	}
	for name, want := range tests {
		s, err := New(name, 1e-3)
		require.NoError(t, err, name)
		assert.Equal(t, want, s.Kind(), name)
		assert.Equal(t, 1e-3, s.StepSize(), name)
		assert.NotNil(t, s.Solver, name)
	}
	s, err := New("adam", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "adam(lr=0.5)", s.String())

	_, err = New("adagrad", 1e-3)
	assert.Error(t, err)
	_, err = New("adam", 0)
	assert.Error(t, err)
}

func TestVanillaStep(t *testing.T) {
	s, err := New("sgd", 0.5)
	require.NoError(t, err)

	g := G.NewGraph()
	w := G.NewVector(g, tensor.Float64, G.WithShape(2), G.WithName("w"),
		G.WithValue(tensor.New(tensor.WithBacking([]float64{1, -1}),
			tensor.WithShape(2))))
	cost := G.Must(G.Sum(G.Must(G.Square(w))))
	_, err = G.Grad(cost, w)
	require.NoError(t, err)

	vm := G.NewTapeMachine(g, G.BindDualValues(w))
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	require.NoError(t, s.Step(G.NodesToValueGrads(G.Nodes{w})))

	// w ← w − 0.5·2w = 0
	assert.InDeltaSlice(t, []float64{0, 0}, w.Value().Data().([]float64),
		1e-12)
}
