package rollout

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNumericalDivergence is returned when a model produces or a learner
// computes a non-finite value
var ErrNumericalDivergence = errors.New("numerical divergence")

// Actor evaluates a batch of observations, given row-major as
// (batch, obs), returning row-major (batch, actions) logits and
// (batch) value estimates
type Actor interface {
	Act(obs []float64) (logits, values []float64, err error)
}

// Collector steps a vectorized environment with a categorical policy
// and gathers the resulting experience into Batches
type Collector struct {
	env     environment.VecEnv
	actor   Actor
	horizon int
	source  rand.Source

	obs          []float64
	interactions int
}

// NewCollector returns a new Collector which gathers batches of
// horizon steps from each environment of env. The seed determines the
// sequence of sampled actions.
func NewCollector(env environment.VecEnv, actor Actor, horizon int,
	seed uint64) (*Collector, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("newCollector: horizon must be positive, "+
			"got %v", horizon)
	}
	return &Collector{
		env:     env,
		actor:   actor,
		horizon: horizon,
		source:  rand.NewSource(seed),
	}, nil
}

// Interactions returns the number of environment steps this Collector
// has taken, counting each environment separately
func (c *Collector) Interactions() int {
	return c.interactions
}

// SetInteractions sets the interaction count, used when resuming
func (c *Collector) SetInteractions(n int) {
	c.interactions = n
}

// Collect runs the policy for one horizon in every environment. The
// environments are reset on the first call only; afterwards episodes
// continue across batches.
func (c *Collector) Collect(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	if c.obs == nil {
		obs, err := c.env.Reset()
		if err != nil {
			return nil, fmt.Errorf("collect: %w", err)
		}
		c.obs = obs
	}

	n, numActions := c.env.NumEnvs(), c.env.NumActions()
	b := newBatch(c.horizon, n, c.env.ObservationSize(), numActions)

	actions := make([]int, n)
	logProbs := make([]float64, numActions)
	probs := make([]float64, numActions)

	for t := 0; t < c.horizon; t++ {
		logits, values, err := c.act(c.obs, n, numActions)
		if err != nil {
			return nil, fmt.Errorf("collect: step %d: %w", t, err)
		}

		for e := 0; e < n; e++ {
			floatutils.LogSoftmax(logProbs, logits[e*numActions:(e+1)*numActions])
			for i, lp := range logProbs {
				probs[i] = math.Exp(lp)
			}
			dist := distuv.NewCategorical(probs, c.source)
			actions[e] = int(dist.Rand())

			b.LogProb = append(b.LogProb, logProbs[actions[e]])
			b.LogProbs = append(b.LogProbs, logProbs...)
		}
		b.Observations = append(b.Observations, c.obs...)
		b.Actions = append(b.Actions, actions...)
		b.Values = append(b.Values, values...)

		obs, rewards, dones, infos, err := c.env.Step(actions)
		if err != nil {
			return nil, fmt.Errorf("collect: step %d: %w", t, err)
		}
		b.Rewards = append(b.Rewards, rewards...)
		b.Dones = append(b.Dones, dones...)
		for _, info := range infos {
			if info.EpisodeDone {
				b.Episodes = append(b.Episodes, info)
			}
		}
		c.obs = obs
	}

	_, bootstrap, err := c.act(c.obs, n, numActions)
	if err != nil {
		return nil, fmt.Errorf("collect: bootstrap: %w", err)
	}
	b.Bootstrap = bootstrap

	c.interactions += c.horizon * n
	return b, nil
}

// act runs the actor and checks its outputs
func (c *Collector) act(obs []float64, n, numActions int) ([]float64,
	[]float64, error) {
	logits, values, err := c.actor.Act(obs)
	if err != nil {
		return nil, nil, err
	}
	if len(logits) != n*numActions || len(values) != n {
		return nil, nil, fmt.Errorf("actor returned %d logits and %d "+
			"values for %d environments with %d actions", len(logits),
			len(values), n, numActions)
	}
	if !floatutils.AllFinite(logits) || !floatutils.AllFinite(values) {
		return nil, nil, fmt.Errorf("%w: non-finite policy or value output",
			ErrNumericalDivergence)
	}
	return logits, values, nil
}
