package environment

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
)

// DistributionMode determines how widely starting states are spread
// around an environment's nominal starting state
type DistributionMode string

const (
	Easy DistributionMode = "easy"
	Hard DistributionMode = "hard"
)

// ParseDistributionMode returns the DistributionMode with the given
// name, ignoring case
func ParseDistributionMode(name string) (DistributionMode, error) {
	switch mode := DistributionMode(strings.ToLower(name)); mode {
	case Easy, Hard:
		return mode, nil
	}
	return "", fmt.Errorf("parseDistributionMode: unknown mode %q", name)
}

// Scale returns the factor by which the mode widens starting state
// spreads
func (d DistributionMode) Scale() float64 {
	if d == Hard {
		return 4
	}
	return 1
}

// LevelStarter samples starting states from a finite pool of levels.
// Each level is a seed, and the same level always produces the same
// starting state: a draw from a uniform distribution over the box
// center ± spread * mode.Scale(). With numLevels == 0 the pool is
// unbounded and every episode gets a fresh level.
type LevelStarter struct {
	bounds     []r1.Interval
	startLevel int
	numLevels  int
	rng        *rand.Rand
	level      uint64
}

// NewLevelStarter returns a new LevelStarter. The seed determines the
// sequence of levels played, not the levels themselves.
func NewLevelStarter(center, spread []float64, mode DistributionMode,
	startLevel, numLevels int, seed uint64) (*LevelStarter, error) {
	if len(center) != len(spread) {
		return nil, fmt.Errorf("newLevelStarter: center has %d features "+
			"but spread has %d", len(center), len(spread))
	}
	if startLevel < 0 || numLevels < 0 {
		return nil, fmt.Errorf("newLevelStarter: start level (%d) and "+
			"number of levels (%d) must be non-negative", startLevel,
			numLevels)
	}
	if _, err := ParseDistributionMode(string(mode)); err != nil {
		return nil, fmt.Errorf("newLevelStarter: %w", err)
	}

	bounds := make([]r1.Interval, len(center))
	for i := range center {
		if spread[i] < 0 {
			return nil, fmt.Errorf("newLevelStarter: negative spread %v",
				spread[i])
		}
		s := spread[i] * mode.Scale()
		bounds[i] = r1.Interval{Min: center[i] - s, Max: center[i] + s}
	}

	return &LevelStarter{
		bounds:     bounds,
		startLevel: startLevel,
		numLevels:  numLevels,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// Start implements the Starter interface
func (l *LevelStarter) Start() *mat.VecDense {
	if l.numLevels == 0 {
		l.level = l.rng.Uint64()
	} else {
		l.level = uint64(l.startLevel + l.rng.Intn(l.numLevels))
	}
	return l.StartLevel(l.level)
}

// StartLevel returns the starting state of the given level
func (l *LevelStarter) StartLevel(level uint64) *mat.VecDense {
	dist := distmv.NewUniform(l.bounds, rand.NewSource(level))
	return mat.NewVecDense(len(l.bounds), dist.Rand(nil))
}

// Level returns the level most recently started
func (l *LevelStarter) Level() uint64 {
	return l.level
}
