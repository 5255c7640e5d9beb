package ppg

import (
	"errors"

	"github.com/samuelfneumann/phasic/buffer/snapshot"
	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/rollout"
)

// Errors that end a training run. None of them are retried.
var (
	// ErrNumericalDivergence is returned when a loss, gradient, or
	// distribution parameter is not finite
	ErrNumericalDivergence = rollout.ErrNumericalDivergence

	// ErrConfiguration is returned when a Config is inconsistent
	ErrConfiguration = errors.New("invalid configuration")

	// ErrBufferInvariant is returned when the snapshot buffer is
	// appended to while full or drained while empty
	ErrBufferInvariant = snapshot.ErrBufferInvariant

	// ErrCollectiveDesync is returned when the ranks of the process
	// group fail to meet at a collective
	ErrCollectiveDesync = dist.ErrCollectiveDesync
)
