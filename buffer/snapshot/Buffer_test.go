package snapshot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(iteration int) Snapshot {
	return Snapshot{
		Iteration:    iteration,
		Horizon:      1,
		NumEnvs:      2,
		ObsSize:      1,
		NumActions:   2,
		Observations: []float64{float64(iteration), 0},
		Returns:      []float64{1, 1},
		LogProbs:     []float64{-0.5, -1, -0.5, -1},
		Values:       []float64{0, 0},
	}
}

func TestBufferRotation(t *testing.T) {
	const nPi = 4
	buf, err := New(nPi)
	require.NoError(t, err)

	for i := 0; i < nPi; i++ {
		assert.False(t, buf.Full())
		require.NoError(t, buf.Append(snap(i)))
	}
	assert.True(t, buf.Full())
	assert.Equal(t, nPi, buf.Len())

	drained, err := buf.Drain()
	require.NoError(t, err)
	require.Len(t, drained, nPi)
	for i, s := range drained {
		assert.Equal(t, i, s.Iteration, "snapshots out of insertion order")
	}
	assert.Equal(t, 0, buf.Len())
	assert.False(t, buf.Full())

	require.NoError(t, buf.Append(snap(nPi)))
	assert.Equal(t, 1, buf.Len())

	// The drained slice must not alias the buffer's new storage
	assert.Equal(t, 0, drained[0].Iteration)
}

func TestBufferInvariantErrors(t *testing.T) {
	buf, err := New(1)
	require.NoError(t, err)

	_, err = buf.Drain()
	assert.ErrorIs(t, err, ErrBufferEmpty)
	assert.ErrorIs(t, err, ErrBufferInvariant)

	require.NoError(t, buf.Append(snap(0)))
	err = buf.Append(snap(1))
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.ErrorIs(t, err, ErrBufferInvariant)
	assert.False(t, errors.Is(err, ErrBufferEmpty))
	assert.Equal(t, 1, buf.Len())

	_, err = New(0)
	assert.Error(t, err)
}

func TestSnapshotValidate(t *testing.T) {
	s := snap(0)
	require.NoError(t, s.Validate())

	s.LogProbs = s.LogProbs[:3]
	assert.Error(t, s.Validate())

	s = snap(0)
	s.Returns = nil
	assert.Error(t, s.Validate())
}
