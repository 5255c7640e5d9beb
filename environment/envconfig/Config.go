// Package envconfig constructs vectorized environments by name
package envconfig

import (
	"fmt"
	"math"
	"sort"
	"strings"

	env "github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/environment/classiccontrol/acrobot"
	"github.com/samuelfneumann/phasic/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/phasic/environment/classiccontrol/mountaincar"
	"github.com/samuelfneumann/phasic/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/phasic/environment/toy"
)

// EnvName stores the name of environments that can be constructed with
// this package
type EnvName string

// Environments available for construction
const (
	Acrobot     EnvName = "acrobot"
	Cartpole    EnvName = "cartpole"
	MountainCar EnvName = "mountaincar"
	Pendulum    EnvName = "pendulum"
	Constant    EnvName = "constant"
)

// Options configures the environments constructed by Make
type Options struct {
	// DistributionMode determines the spread of starting states
	DistributionMode env.DistributionMode

	// StartLevel and NumLevels determine the pool of levels that
	// starting states are drawn from. NumLevels == 0 is unbounded.
	StartLevel int
	NumLevels  int

	// Seed of environment 0. Environment i uses Seed + i.
	Seed uint64

	// EpisodeSteps overrides the step limit of episodes when positive
	EpisodeSteps int
}

// constructor builds a single environment with the given starter seed
type constructor func(o Options, seed uint64) (env.Environment, error)

var registry = map[EnvName]constructor{
	Acrobot:     newAcrobot,
	Cartpole:    newCartpole,
	MountainCar: newMountainCar,
	Pendulum:    newPendulum,
	Constant:    newConstant,
}

// Names returns the names of all registered environments
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Make returns a vectorized environment of numEnvs copies of the named
// environment
func Make(name string, numEnvs int, o Options) (*env.Vec, error) {
	ctor, ok := registry[EnvName(strings.ToLower(name))]
	if !ok {
		return nil, fmt.Errorf("make: unknown environment %q (known: %v)",
			name, strings.Join(Names(), ", "))
	}
	if numEnvs <= 0 {
		return nil, fmt.Errorf("make: number of environments must be "+
			"positive, got %d", numEnvs)
	}
	if o.DistributionMode == "" {
		o.DistributionMode = env.Easy
	}

	envs := make([]env.Environment, numEnvs)
	for i := range envs {
		e, err := ctor(o, o.Seed+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("make: %v: %w", name, err)
		}
		envs[i] = e
	}
	return env.NewVec(envs)
}

func episodeSteps(o Options, defaultSteps int) int {
	if o.EpisodeSteps > 0 {
		return o.EpisodeSteps
	}
	return defaultSteps
}

func newAcrobot(o Options, seed uint64) (env.Environment, error) {
	center := make([]float64, acrobot.ObservationDims)
	spread := []float64{0.1, 0.1, 0.1, 0.1}
	s, err := env.NewLevelStarter(center, spread, o.DistributionMode,
		o.StartLevel, o.NumLevels, seed)
	if err != nil {
		return nil, err
	}

	task := acrobot.NewSwingUp(s, episodeSteps(o, 500), acrobot.GoalHeight)
	return acrobot.New(task, 1.0), nil
}

func newCartpole(o Options, seed uint64) (env.Environment, error) {
	center := make([]float64, cartpole.ObservationDims)
	spread := []float64{0.05, 0.05, 0.05, 0.05}
	s, err := env.NewLevelStarter(center, spread, o.DistributionMode,
		o.StartLevel, o.NumLevels, seed)
	if err != nil {
		return nil, err
	}

	task, err := cartpole.NewBalance(s, episodeSteps(o, 500),
		cartpole.FailAngle)
	if err != nil {
		return nil, err
	}
	return cartpole.New(task, 1.0), nil
}

func newMountainCar(o Options, seed uint64) (env.Environment, error) {
	center := []float64{-0.5, 0}
	spread := []float64{0.1, 0}
	s, err := env.NewLevelStarter(center, spread, o.DistributionMode,
		o.StartLevel, o.NumLevels, seed)
	if err != nil {
		return nil, err
	}

	task, err := mountaincar.NewGoal(s, episodeSteps(o, 200),
		mountaincar.GoalPosition)
	if err != nil {
		return nil, err
	}
	return mountaincar.New(task, 1.0), nil
}

func newPendulum(o Options, seed uint64) (env.Environment, error) {
	center := []float64{math.Pi, 0}
	spread := []float64{math.Pi, 1}
	s, err := env.NewLevelStarter(center, spread, o.DistributionMode,
		o.StartLevel, o.NumLevels, seed)
	if err != nil {
		return nil, err
	}

	task := pendulum.NewSwingUp(s, episodeSteps(o, 200))
	return pendulum.New(task, 1.0), nil
}

func newConstant(o Options, _ uint64) (env.Environment, error) {
	return toy.NewConstant(o.EpisodeSteps, 1.0), nil
}
