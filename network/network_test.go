package network

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func matrix(g *G.ExprGraph, name string, rows, cols int,
	data []float64) *G.Node {
	return G.NewMatrix(g, tensor.Float64, G.WithShape(rows, cols),
		G.WithName(name), G.WithValue(tensor.New(
			tensor.WithBacking(data), tensor.WithShape(rows, cols))))
}

func TestDenseForward(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 2, 3, []float64{1, 2, 3, -1, -2, -3})
	w := matrix(g, "w", 3, 2, []float64{1, 0, 0, 1, 1, 1})
	b := matrix(g, "b", 1, 2, []float64{0.5, -0.5})

	layer, err := NewDense(w, b, ReLU())
	require.NoError(t, err)

	out, err := MLP{layer}.Fwd(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())

	var outVal G.Value
	G.Read(out, &outVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	// Row 0: [1+3, 2+3] + b = [4.5, 4.5]; row 1 is negative and rectified
	assert.Equal(t, []float64{4.5, 4.5, 0, 0}, outVal.Data().([]float64))
}

func TestNewDenseShapeChecks(t *testing.T) {
	g := G.NewGraph()
	w := matrix(g, "w", 3, 2, make([]float64, 6))
	badBias := matrix(g, "b", 1, 3, make([]float64, 3))

	_, err := NewDense(w, badBias, nil)
	assert.Error(t, err)

	_, err = NewDense(nil, nil, nil)
	assert.Error(t, err)
}

func TestActivationByName(t *testing.T) {
	for _, name := range []string{"relu", "TanH", "identity", "sigmoid"} {
		act, err := ActivationByName(name)
		require.NoError(t, err, name)

		var buf bytes.Buffer
		require.NoError(t, gob.NewEncoder(&buf).Encode(act))

		decoded := &Activation{}
		require.NoError(t, gob.NewDecoder(&buf).Decode(decoded))
		assert.Equal(t, act.String(), decoded.String())
	}

	_, err := ActivationByName("softsign")
	assert.Error(t, err)
}
