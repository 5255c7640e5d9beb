package dist

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// runRanks runs fn concurrently on every rank and returns the first
// error.
func runRanks(comms []Comm, fn func(c Comm) error) error {
	var g errgroup.Group
	for _, c := range comms {
		c := c
		g.Go(func() error { return fn(c) })
	}
	return g.Wait()
}

func TestLocalCollectives(t *testing.T) {
	defer goleak.VerifyNone(t)

	const size = 4
	comms, err := NewLocal(size, WithTimeout(5*time.Second))
	require.NoError(t, err)

	results := make([][]float64, size)
	err = runRanks(comms, func(c Comm) error {
		ctx := context.Background()
		r := float64(c.Rank())

		bcast := []float64{r, r * 10}
		if err := c.Broadcast(ctx, 2, bcast); err != nil {
			return err
		}

		sum := []float64{r, 1}
		if err := c.AllReduceSum(ctx, sum); err != nil {
			return err
		}

		mean := []float64{0.1 * r, 0.3 * r, 1 / (r + 1)}
		if err := c.AllReduceMean(ctx, mean); err != nil {
			return err
		}

		results[c.Rank()] = append(append(bcast, sum...), mean...)
		return nil
	})
	require.NoError(t, err)

	for rank, res := range results {
		assert.Equal(t, []float64{2, 20}, res[:2], "rank %d", rank)
		assert.Equal(t, []float64{6, 4}, res[2:4], "rank %d", rank)
		for i := range res {
			assert.Equal(t, math.Float64bits(results[0][i]),
				math.Float64bits(res[i]), "rank %d value %d", rank, i)
		}
	}

	for _, c := range comms {
		require.NoError(t, c.Close())
	}
}

func TestLocalDesyncOnMismatchedCollectives(t *testing.T) {
	defer goleak.VerifyNone(t)

	comms, err := NewLocal(2, WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer func() {
		for _, c := range comms {
			c.Close()
		}
	}()

	errs := make([]error, 2)
	runRanks(comms, func(c Comm) error {
		buf := make([]float64, 3+c.Rank())
		errs[c.Rank()] = c.AllReduceSum(context.Background(), buf)
		return nil
	})

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrCollectiveDesync)
	}

	// The group is broken for good
	err = comms[0].AllReduceSum(context.Background(), []float64{1})
	assert.True(t, IsDesync(err))
}

func TestLocalTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	comms, err := NewLocal(2, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	// Rank 1 never arrives
	start := time.Now()
	err = comms[0].Broadcast(context.Background(), 0, []float64{1})
	assert.ErrorIs(t, err, ErrCollectiveDesync)
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, c := range comms {
		c.Close()
	}
}

func TestLocalRankLeavingBreaksWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)

	comms, err := NewLocal(2, WithTimeout(5*time.Second))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- comms[0].AllReduceMean(context.Background(), []float64{1})
	}()

	// Wait for rank 0 to reach the collective before rank 1 leaves
	require.Eventually(t, func() bool {
		h := comms[0].(*localComm).hub
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.rounds) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, comms[1].Close())
	assert.ErrorIs(t, <-done, ErrCollectiveDesync)
	comms[0].Close()
}

func TestVerifyIdentical(t *testing.T) {
	defer goleak.VerifyNone(t)

	comms, err := NewLocal(3, WithTimeout(5*time.Second))
	require.NoError(t, err)

	params := []float64{0.25, -1, 3}
	err = runRanks(comms, func(c Comm) error {
		return VerifyIdentical(context.Background(), c, params)
	})
	require.NoError(t, err)

	errs := make([]error, 3)
	runRanks(comms, func(c Comm) error {
		local := append([]float64(nil), params...)
		if c.Rank() == 2 {
			local[1] = math.Copysign(0, -1)
		}
		errs[c.Rank()] = VerifyIdentical(context.Background(), c, local)
		return nil
	})
	for rank, err := range errs {
		assert.ErrorIs(t, err, ErrParamDrift, "rank %d", rank)
	}

	for _, c := range comms {
		c.Close()
	}
}

func TestWebSocketGroup(t *testing.T) {
	defer goleak.VerifyNone(t)

	const size = 3
	ctx := context.Background()

	coord, err := Listen(ctx, "127.0.0.1:0", size, WithTimeout(5*time.Second))
	require.NoError(t, err)

	comms := make([]Comm, size)
	var dial errgroup.Group
	for rank := 1; rank < size; rank++ {
		rank := rank
		dial.Go(func() error {
			c, err := Dial(ctx, coord.Addr(), rank, size,
				WithTimeout(5*time.Second))
			comms[rank] = c
			return err
		})
	}
	comms[0], err = coord.Accept(ctx)
	require.NoError(t, err)
	require.NoError(t, dial.Wait())

	results := make([][]float64, size)
	err = runRanks(comms, func(c Comm) error {
		r := float64(c.Rank())
		buf := []float64{r + 1, r * r}
		if err := c.AllReduceMean(ctx, buf); err != nil {
			return err
		}
		b := []float64{r}
		if err := c.Broadcast(ctx, 1, b); err != nil {
			return err
		}
		results[c.Rank()] = append(buf, b...)
		return nil
	})
	require.NoError(t, err)

	for rank, res := range results {
		assert.InDeltaSlice(t, []float64{2, 5.0 / 3.0, 1}, res, 1e-12,
			"rank %d", rank)
		assert.Equal(t, results[0], res)
	}

	// A rank joining twice is rejected
	_, err = Dial(ctx, coord.Addr(), 1, size, WithTimeout(time.Second))
	assert.Error(t, err)

	for rank := size - 1; rank >= 0; rank-- {
		require.NoError(t, comms[rank].Close())
	}
}
