package ppg

import (
	"context"
	"fmt"

	"github.com/samuelfneumann/phasic/model"
)

// State is a state of the training loop
type State int

const (
	Collecting State = iota
	PolicyUpdate
	AuxUpdate
	Terminated
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case PolicyUpdate:
		return "policy_update"
	case AuxUpdate:
		return "aux_update"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StepHook is called on every rank after each synchronized optimizer
// step with the phase of the step and the updated model. A non-nil
// error ends training.
type StepHook func(ctx context.Context, phase model.Phase,
	m *model.PhasicValueModel) error

// Hooks observe a training run. Every hook is optional and is called
// on every rank.
type Hooks struct {
	// AfterStep is called after every optimizer step
	AfterStep StepHook

	// AfterIteration is called once the policy phase, and the auxiliary
	// phase if one was due, of an iteration have finished
	AfterIteration func(ctx context.Context, s Stats) error

	// AfterRotation is called after each auxiliary phase, when the
	// snapshot buffer is empty and training can be resumed from c
	AfterRotation func(ctx context.Context, c Checkpoint) error
}

// Stats summarizes one iteration of training. Episode statistics are
// taken over every episode that finished during the iteration on any
// rank, and are NaN if none did.
type Stats struct {
	Iteration    int
	Interactions int

	EpisodeReturn float64
	EpisodeLength float64
	Episodes      int

	// EvalEpisodeReturn is the mean return of the evaluation
	// environments' episodes, NaN when there is no evaluation
	// environment or no evaluation episode finished
	EvalEpisodeReturn float64
	EvalEpisodes      int

	Policy PolicyStats

	// Aux is nil unless an auxiliary phase ran this iteration
	Aux *AuxStats
}

// Row returns the column names and values of s for tabular output.
// Auxiliary columns are always present and are NaN when Aux is nil.
func (s Stats) Row() ([]string, []float64) {
	keys := []string{
		"iteration", "interactions",
		"episode_return", "episode_length", "episodes",
		"eval_episode_return", "eval_episodes",
		"pi_loss", "vf_loss", "kl", "entropy", "clip_frac",
		"aux_pol_distance", "aux_vf_true", "aux_vf_aux",
	}
	aux := []float64{nan, nan, nan}
	if s.Aux != nil {
		aux = []float64{s.Aux.PolDistance, s.Aux.VfTrue, s.Aux.VfAux}
	}
	values := append([]float64{
		float64(s.Iteration), float64(s.Interactions),
		s.EpisodeReturn, s.EpisodeLength, float64(s.Episodes),
		s.EvalEpisodeReturn, float64(s.EvalEpisodes),
		s.Policy.PiLoss, s.Policy.VfLoss, s.Policy.KL, s.Policy.Entropy,
		s.Policy.ClipFrac,
	}, aux...)
	return keys, values
}

// Checkpoint is the state needed to resume training. Checkpoints are
// only taken between auxiliary phases, when no snapshots are buffered.
type Checkpoint struct {
	Interactions int
	Iteration    int
	Model        model.Descriptor
	Params       *model.Params
}
