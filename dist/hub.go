package dist

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// round gathers the contributions of every rank to one collective
type round struct {
	reqs   []*request
	got    int
	done   chan struct{}
	result []float64
	err    error
}

// hub matches the collectives of every rank by sequence number and
// evaluates each one once all ranks have arrived. Once any collective
// fails the hub is broken and every later collective fails too.
type hub struct {
	size   int
	logger *zap.Logger

	mu     sync.Mutex
	rounds map[uint64]*round
	left   []bool
	err    error
}

func newHub(size int, logger *zap.Logger) *hub {
	return &hub{
		size:   size,
		logger: logger,
		rounds: make(map[uint64]*round),
		left:   make([]bool, size),
	}
}

// submit contributes req to its collective and blocks until the
// collective completes, the hub breaks, or ctx is done.
func (h *hub) submit(ctx context.Context, req *request) ([]float64, error) {
	h.mu.Lock()
	if h.err != nil {
		h.mu.Unlock()
		return nil, h.err
	}
	if req.Rank < 0 || req.Rank >= h.size {
		h.mu.Unlock()
		return nil, fmt.Errorf("submit: illegal rank %d", req.Rank)
	}

	r, ok := h.rounds[req.Seq]
	if !ok {
		r = &round{reqs: make([]*request, h.size), done: make(chan struct{})}
		h.rounds[req.Seq] = r
	}
	if r.reqs[req.Rank] != nil {
		err := desyncf("seq %d: rank %d submitted twice", req.Seq, req.Rank)
		h.breakLocked(err)
		h.mu.Unlock()
		return nil, err
	}
	r.reqs[req.Rank] = req
	r.got++

	if r.got == h.size {
		r.result, r.err = reduce(r.reqs)
		delete(h.rounds, req.Seq)
		close(r.done)
		if r.err != nil {
			h.breakLocked(r.err)
		}
	}
	h.mu.Unlock()

	select {
	case <-r.done:
		if r.err != nil {
			return nil, r.err
		}
		return r.result, nil

	case <-ctx.Done():
		err := desyncf("seq %d: rank %d waiting at %v: %v", req.Seq,
			req.Rank, req.Op, ctx.Err())
		h.fail(err)
		return nil, err
	}
}

// leave removes a rank from the group, breaking the hub if other ranks
// are still active
func (h *hub) leave(rank int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rank < 0 || rank >= h.size || h.left[rank] {
		return
	}
	h.left[rank] = true
	if len(h.rounds) > 0 {
		h.breakLocked(desyncf("rank %d left the group", rank))
		return
	}
	if h.err == nil {
		h.err = desyncf("rank %d left the group", rank)
		h.logger.Debug("rank left process group", zap.Int("rank", rank))
	}
}

// fail breaks the hub with err
func (h *hub) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakLocked(err)
}

func (h *hub) breakLocked(err error) {
	if h.err != nil {
		return
	}
	h.err = err
	h.logger.Error("process group broken", zap.Error(err))

	for seq, r := range h.rounds {
		r.err = err
		close(r.done)
		delete(h.rounds, seq)
	}
}
