package dist

import (
	"context"
	"fmt"
	"time"
)

// localComm is a rank of an in-process group. Ranks run as goroutines
// of a single process and meet at a shared hub.
type localComm struct {
	hub     *hub
	rank    int
	seq     uint64
	timeout time.Duration
}

// NewLocal returns the handles of an in-process group of the given
// size, one per rank. Each handle must be used by a single goroutine.
func NewLocal(size int, opts ...Option) ([]Comm, error) {
	if size <= 0 {
		return nil, fmt.Errorf("newLocal: group size must be positive, "+
			"got %v", size)
	}
	o := newOptions(opts)
	h := newHub(size, o.logger)

	comms := make([]Comm, size)
	for rank := range comms {
		comms[rank] = &localComm{hub: h, rank: rank, timeout: o.timeout}
	}
	return comms, nil
}

// Rank implements the Comm interface
func (c *localComm) Rank() int { return c.rank }

// Size implements the Comm interface
func (c *localComm) Size() int { return c.hub.size }

// Broadcast implements the Comm interface
func (c *localComm) Broadcast(ctx context.Context, root int,
	buf []float64) error {
	return c.collective(ctx, OpBroadcast, root, buf)
}

// AllReduceMean implements the Comm interface
func (c *localComm) AllReduceMean(ctx context.Context, buf []float64) error {
	return c.collective(ctx, OpMean, 0, buf)
}

// AllReduceSum implements the Comm interface
func (c *localComm) AllReduceSum(ctx context.Context, buf []float64) error {
	return c.collective(ctx, OpSum, 0, buf)
}

// Close implements the Comm interface
func (c *localComm) Close() error {
	c.hub.leave(c.rank)
	return nil
}

func (c *localComm) collective(ctx context.Context, op Op, root int,
	buf []float64) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.seq++
	req := &request{
		Seq:  c.seq,
		Op:   op,
		Root: root,
		Rank: c.rank,
		Data: append([]float64(nil), buf...),
	}

	result, err := c.hub.submit(ctx, req)
	if err != nil {
		return fmt.Errorf("%v: %w", op, err)
	}
	copy(buf, result)
	return nil
}
