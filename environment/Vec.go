package environment

import (
	"fmt"

	"github.com/samuelfneumann/phasic/timestep"
)

// Info reports per-environment information for one vectorized step.
// When EpisodeDone is true the episode fields describe the episode that
// just finished and the returned observation belongs to a new episode.
type Info struct {
	EpisodeDone   bool
	EpisodeReturn float64
	EpisodeLength int
	EndType       timestep.EndType
}

// VecEnv is a batch of environments stepped in lockstep. Observations
// are returned flattened, environment-major: the observation of
// environment e occupies [e*ObservationSize(), (e+1)*ObservationSize()).
type VecEnv interface {
	NumEnvs() int
	ObservationSize() int
	NumActions() int
	Reset() ([]float64, error)
	Step(actions []int) (obs, rewards []float64, dones []bool, infos []Info,
		err error)
}

// Vec implements VecEnv over a slice of Environments, resetting each
// environment as soon as its episode ends
type Vec struct {
	envs       []Environment
	obsSize    int
	numActions int

	returns []float64
	lengths []int
	ready   bool
}

// NewVec returns a new Vec. All environments must agree on their
// observation size and number of actions.
func NewVec(envs []Environment) (*Vec, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("newVec: no environments")
	}
	obsSize, numActions := envs[0].ObservationSize(), envs[0].NumActions()
	for i, env := range envs[1:] {
		if env.ObservationSize() != obsSize || env.NumActions() != numActions {
			return nil, fmt.Errorf("newVec: environment %d has observation "+
				"size %d and %d actions, environment 0 has %d and %d", i+1,
				env.ObservationSize(), env.NumActions(), obsSize, numActions)
		}
	}

	return &Vec{
		envs:       envs,
		obsSize:    obsSize,
		numActions: numActions,
		returns:    make([]float64, len(envs)),
		lengths:    make([]int, len(envs)),
	}, nil
}

// NumEnvs implements the VecEnv interface
func (v *Vec) NumEnvs() int { return len(v.envs) }

// ObservationSize implements the VecEnv interface
func (v *Vec) ObservationSize() int { return v.obsSize }

// NumActions implements the VecEnv interface
func (v *Vec) NumActions() int { return v.numActions }

// Reset implements the VecEnv interface
func (v *Vec) Reset() ([]float64, error) {
	obs := make([]float64, len(v.envs)*v.obsSize)
	for i, env := range v.envs {
		step, err := env.Reset()
		if err != nil {
			return nil, fmt.Errorf("reset: environment %d: %w", i, err)
		}
		copy(obs[i*v.obsSize:], step.Observation.RawVector().Data)
		v.returns[i], v.lengths[i] = 0, 0
	}
	v.ready = true
	return obs, nil
}

// Step implements the VecEnv interface
func (v *Vec) Step(actions []int) ([]float64, []float64, []bool, []Info,
	error) {
	if !v.ready {
		return nil, nil, nil, nil, fmt.Errorf("step: called before reset")
	}
	if len(actions) != len(v.envs) {
		return nil, nil, nil, nil, fmt.Errorf("step: %d actions for %d "+
			"environments", len(actions), len(v.envs))
	}

	obs := make([]float64, len(v.envs)*v.obsSize)
	rewards := make([]float64, len(v.envs))
	dones := make([]bool, len(v.envs))
	infos := make([]Info, len(v.envs))

	for i, env := range v.envs {
		step, err := env.Step(actions[i])
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("step: environment %d: %w",
				i, err)
		}
		rewards[i] = step.Reward
		v.returns[i] += step.Reward
		v.lengths[i]++

		if step.Last() {
			dones[i] = true
			infos[i] = Info{
				EpisodeDone:   true,
				EpisodeReturn: v.returns[i],
				EpisodeLength: v.lengths[i],
				EndType:       step.EndType(),
			}
			v.returns[i], v.lengths[i] = 0, 0

			if step, err = env.Reset(); err != nil {
				return nil, nil, nil, nil, fmt.Errorf("step: environment "+
					"%d: %w", i, err)
			}
		}
		copy(obs[i*v.obsSize:], step.Observation.RawVector().Data)
	}
	return obs, rewards, dones, infos, nil
}
