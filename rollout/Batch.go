// Package rollout implements the collection of fixed-horizon batches of
// experience from vectorized environments.
package rollout

import (
	"fmt"

	"github.com/samuelfneumann/phasic/buffer/gae"
	"github.com/samuelfneumann/phasic/environment"
)

// Transition is a single step of one environment
type Transition struct {
	Observation []float64
	Action      int
	Reward      float64
	Done        bool
	LogProb     float64 // log-probability of Action under the behaviour policy
	Value       float64
	LogProbs    []float64 // log-probabilities of every action
}

// Batch holds the transitions of Horizon steps of NumEnvs environments.
// All per-step slices are time-major: step t of environment e is at
// index t*NumEnvs + e, times the width of a row where rows have more
// than one column.
type Batch struct {
	Horizon    int
	NumEnvs    int
	ObsSize    int
	NumActions int

	Observations []float64
	Actions      []int
	Rewards      []float64
	Dones        []bool // episode ended with this step
	LogProb      []float64
	Values       []float64
	LogProbs     []float64

	// Bootstrap holds the value estimates of the observations following
	// the last step
	Bootstrap []float64

	// Episodes holds every episode that finished during the batch
	Episodes []environment.Info
}

// newBatch returns an empty Batch with room for horizon steps
func newBatch(horizon, numEnvs, obsSize, numActions int) *Batch {
	rows := horizon * numEnvs
	return &Batch{
		Horizon:      horizon,
		NumEnvs:      numEnvs,
		ObsSize:      obsSize,
		NumActions:   numActions,
		Observations: make([]float64, 0, rows*obsSize),
		Actions:      make([]int, 0, rows),
		Rewards:      make([]float64, 0, rows),
		Dones:        make([]bool, 0, rows),
		LogProb:      make([]float64, 0, rows),
		Values:       make([]float64, 0, rows),
		LogProbs:     make([]float64, 0, rows*numActions),
	}
}

// Len returns the number of transitions in the Batch
func (b *Batch) Len() int {
	return b.Horizon * b.NumEnvs
}

// Transition returns step t of environment e. The returned slices alias
// the Batch.
func (b *Batch) Transition(t, e int) (Transition, error) {
	if t < 0 || t >= b.Horizon || e < 0 || e >= b.NumEnvs {
		return Transition{}, fmt.Errorf("transition: step (%d, %d) out of "+
			"range (%d, %d)", t, e, b.Horizon, b.NumEnvs)
	}
	i := t*b.NumEnvs + e
	return Transition{
		Observation: b.Observations[i*b.ObsSize : (i+1)*b.ObsSize],
		Action:      b.Actions[i],
		Reward:      b.Rewards[i],
		Done:        b.Dones[i],
		LogProb:     b.LogProb[i],
		Value:       b.Values[i],
		LogProbs:    b.LogProbs[i*b.NumActions : (i+1)*b.NumActions],
	}, nil
}

// GAEInput returns the Batch's rewards, values, and terminations as
// input to advantage estimation
func (b *Batch) GAEInput() gae.Input {
	return gae.Input{
		NumEnvs:   b.NumEnvs,
		Rewards:   b.Rewards,
		Values:    b.Values,
		Dones:     b.Dones,
		Bootstrap: b.Bootstrap,
	}
}

// EpisodeReturns returns the returns of the episodes that finished
// during the Batch
func (b *Batch) EpisodeReturns() []float64 {
	returns := make([]float64, len(b.Episodes))
	for i, ep := range b.Episodes {
		returns[i] = ep.EpisodeReturn
	}
	return returns
}
