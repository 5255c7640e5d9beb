// Package dist implements the process group used to keep the model
// parameters of cooperating training processes identical. A process
// group supports two collectives: broadcasting a buffer from one rank,
// and all-reducing a buffer over every rank.
//
// Every reduction is evaluated exactly once, in rank order, and the
// same result is handed to every rank, so that all ranks observe
// bit-identical results regardless of arrival order.
package dist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// ErrCollectiveDesync is returned when the ranks of a group fail to
// meet at a collective: a rank timed out, left the group, or called a
// different collective than its peers. It is fatal for the whole run.
var ErrCollectiveDesync = errors.New("collective desync")

// DefaultTimeout bounds how long a rank waits at a collective
const DefaultTimeout = 5 * time.Minute

// Comm is one rank's handle on a process group. Collectives block until
// every rank in the group has called the same collective. All ranks
// must issue the same sequence of collectives with buffers of the same
// length.
type Comm interface {
	// Rank returns this process' index in [0, Size())
	Rank() int

	// Size returns the number of ranks in the group
	Size() int

	// Broadcast overwrites buf on every rank with the contents of buf
	// on rank root
	Broadcast(ctx context.Context, root int, buf []float64) error

	// AllReduceMean overwrites buf on every rank with the element-wise
	// mean of buf over all ranks
	AllReduceMean(ctx context.Context, buf []float64) error

	// AllReduceSum overwrites buf on every rank with the element-wise
	// sum of buf over all ranks
	AllReduceSum(ctx context.Context, buf []float64) error

	// Close removes this rank from the group. Collectives in flight on
	// other ranks fail with ErrCollectiveDesync.
	Close() error
}

// Op is a collective operation
type Op uint8

const (
	OpBroadcast Op = iota + 1
	OpSum
	OpMean
)

func (o Op) String() string {
	switch o {
	case OpBroadcast:
		return "broadcast"
	case OpSum:
		return "allreduce-sum"
	case OpMean:
		return "allreduce-mean"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// request is one rank's contribution to a collective
type request struct {
	Seq  uint64
	Op   Op
	Root int
	Rank int
	Data []float64
}

// reply carries the result of a collective back to a rank
type reply struct {
	Seq  uint64
	Data []float64
	Err  string
}

// desyncf returns an error wrapping ErrCollectiveDesync
func desyncf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCollectiveDesync,
		fmt.Sprintf(format, args...))
}

// reduce combines the contributions of every rank, indexed by rank
func reduce(reqs []*request) ([]float64, error) {
	first := reqs[0]
	for _, r := range reqs[1:] {
		if r.Op != first.Op || r.Root != first.Root {
			return nil, desyncf("seq %d: rank %d called %v(root=%d), rank "+
				"%d called %v(root=%d)", first.Seq, first.Rank, first.Op,
				first.Root, r.Rank, r.Op, r.Root)
		}
		if len(r.Data) != len(first.Data) {
			return nil, desyncf("seq %d: rank %d sent %d values, rank %d "+
				"sent %d", first.Seq, first.Rank, len(first.Data), r.Rank,
				len(r.Data))
		}
	}

	out := make([]float64, len(first.Data))
	switch first.Op {
	case OpBroadcast:
		if first.Root < 0 || first.Root >= len(reqs) {
			return nil, desyncf("seq %d: illegal root %d", first.Seq,
				first.Root)
		}
		copy(out, reqs[first.Root].Data)

	case OpSum, OpMean:
		copy(out, reqs[0].Data)
		for _, r := range reqs[1:] {
			floats.Add(out, r.Data)
		}
		if first.Op == OpMean {
			floats.Scale(1/float64(len(reqs)), out)
		}

	default:
		return nil, desyncf("seq %d: unknown op %v", first.Seq, first.Op)
	}
	return out, nil
}

// Option configures a process group
type Option func(*options)

type options struct {
	timeout time.Duration
	logger  *zap.Logger
}

func newOptions(opts []Option) options {
	o := options{timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTimeout sets how long a rank waits at a collective before failing
// with ErrCollectiveDesync
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger of the group
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
