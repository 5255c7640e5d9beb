package timestep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestStepTypes(t *testing.T) {
	step := New(First, 0, 0.99, mat.NewVecDense(2, nil), 0)
	assert.True(t, step.First())
	assert.False(t, step.Last())
	assert.Equal(t, Unknown, step.EndType())

	step.StepType = Last
	step.SetEnd(Timeout)
	assert.True(t, step.Last())
	assert.Equal(t, Timeout, step.EndType())
	assert.Equal(t, "Timeout", step.EndType().String())
	assert.Contains(t, step.String(), "Last")
}
