// Package ppg implements Phasic Policy Gradient: alternating policy
// phases, which train the policy and value function with the clipped
// surrogate objective on fresh experience, and auxiliary phases, which
// distill value information into the policy network while holding the
// policy close to its recorded action distributions.
//
// Training may be distributed over a dist.Comm process group. Every
// rank collects its own experience and all ranks apply identical
// averaged gradient steps, so parameters stay bit-identical.
package ppg

import (
	"context"
	"fmt"
	"math"

	"github.com/samuelfneumann/phasic/buffer/gae"
	"github.com/samuelfneumann/phasic/buffer/snapshot"
	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/environment/envconfig"
	"github.com/samuelfneumann/phasic/model"
	"github.com/samuelfneumann/phasic/rollout"
	"github.com/samuelfneumann/phasic/utils/floatutils"
	"go.uber.org/zap"
)

var nan = math.NaN()

// Option configures a Trainer
type Option func(*Trainer)

// WithLogger sets the logger of the Trainer. The default discards all
// output.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) {
		t.logger = l
	}
}

// WithHooks sets the hooks called during training
func WithHooks(h Hooks) Option {
	return func(t *Trainer) {
		t.hooks = h
	}
}

// WithEvalEnv sets an environment that is stepped with the current
// policy for one horizon every iteration, without training on the
// experience. If one rank has an evaluation environment then all must.
func WithEvalEnv(env environment.VecEnv) Option {
	return func(t *Trainer) {
		t.evalEnv = env
	}
}

// WithResume restores the parameters and counters of c before
// training starts. Only rank 0 needs the checkpoint: when Run starts,
// every rank takes the parameters and counters of rank 0.
func WithResume(c *Checkpoint) Option {
	return func(t *Trainer) {
		t.resume = c
	}
}

// Trainer runs the training loop of one rank
type Trainer struct {
	cfg     Config
	env     environment.VecEnv
	evalEnv environment.VecEnv
	comm    dist.Comm
	logger  *zap.Logger
	hooks   Hooks
	resume  *Checkpoint

	model         *model.PhasicValueModel
	actor         *model.Actor
	evalActor     *model.Actor
	collector     *rollout.Collector
	evalCollector *rollout.Collector
	policy        *PolicyOptimizer
	aux           *AuxDistiller
	buffer        *snapshot.Buffer

	state        State
	iteration    int
	interactions int
}

// New returns a Trainer which trains a freshly initialized model on env
// as one rank of comm
func New(cfg Config, env environment.VecEnv, comm dist.Comm,
	opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	if env.NumEnvs() != cfg.NumEnvs {
		return nil, fmt.Errorf("new: %w: environment holds %d copies, "+
			"num_envs is %d", ErrConfiguration, env.NumEnvs(), cfg.NumEnvs)
	}

	t := &Trainer{
		cfg:    cfg,
		env:    env,
		comm:   comm,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	mc, err := cfg.ModelConfig(env.ObservationSize(), env.NumActions())
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	if t.model, err = model.New(mc); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	if t.resume != nil {
		if err := mc.Descriptor().Compatible(t.resume.Model); err != nil {
			return nil, fmt.Errorf("new: resume: %w", err)
		}
		if err := t.model.SetParams(t.resume.Params); err != nil {
			return nil, fmt.Errorf("new: resume: %w", err)
		}
		t.iteration = t.resume.Iteration
		t.interactions = t.resume.Interactions
	}

	rank := uint64(comm.Rank())
	if t.actor, err = model.NewActor(t.model, cfg.NumEnvs); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	t.collector, err = rollout.NewCollector(env, t.actor, cfg.Horizon,
		cfg.Seed*1000+100+rank)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	if t.evalEnv != nil {
		if t.evalEnv.ObservationSize() != env.ObservationSize() ||
			t.evalEnv.NumActions() != env.NumActions() {
			return nil, fmt.Errorf("new: %w: evaluation environment does "+
				"not match the training environment", ErrConfiguration)
		}
		if t.evalActor, err = model.NewActor(t.model, t.evalEnv.NumEnvs()); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		t.evalCollector, err = rollout.NewCollector(t.evalEnv, t.evalActor,
			cfg.Horizon, cfg.Seed*1000+200+rank)
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
	}

	if t.policy, err = NewPolicyOptimizer(t.model, cfg, comm,
		t.hooks.AfterStep); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	if t.aux, err = NewAuxDistiller(t.model, cfg, comm,
		t.hooks.AfterStep); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	if t.buffer, err = snapshot.New(cfg.NPi); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	return t, nil
}

// Model returns the model being trained
func (t *Trainer) Model() *model.PhasicValueModel {
	return t.model
}

// State returns the current state of the training loop
func (t *Trainer) State() State {
	return t.state
}

// Interactions returns the number of environment steps taken by the
// whole process group
func (t *Trainer) Interactions() int {
	return t.interactions
}

// Iteration returns the number of completed iterations
func (t *Trainer) Iteration() int {
	return t.iteration
}

// Run trains until the process group has taken interacts_total
// environment steps. Snapshots still buffered when training ends are
// discarded without an auxiliary phase.
func (t *Trainer) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := t.broadcastState(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	for t.interactions < t.cfg.InteractsTotal {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if err := t.step(ctx); err != nil {
			return fmt.Errorf("run: iteration %d: %w", t.iteration, err)
		}
	}

	t.transition(Terminated)
	return nil
}

// step runs one iteration: a collection, a policy phase, and an
// auxiliary phase once n_pi snapshots have been gathered
func (t *Trainer) step(ctx context.Context) error {
	t.transition(Collecting)
	b, err := t.collector.Collect(ctx)
	if err != nil {
		return err
	}

	counts := []float64{float64(b.Len())}
	if err := t.comm.AllReduceSum(ctx, counts); err != nil {
		return err
	}
	t.interactions += int(counts[0])

	stats := Stats{Interactions: t.interactions}
	stats.EpisodeReturn, stats.EpisodeLength, stats.Episodes, err =
		t.episodeStats(ctx, b.Episodes)
	if err != nil {
		return err
	}
	stats.EvalEpisodeReturn = nan
	if t.evalCollector != nil {
		eb, err := t.evalCollector.Collect(ctx)
		if err != nil {
			return fmt.Errorf("evaluation: %w", err)
		}
		stats.EvalEpisodeReturn, _, stats.EvalEpisodes, err =
			t.episodeStats(ctx, eb.Episodes)
		if err != nil {
			return err
		}
	}

	t.transition(PolicyUpdate)
	adv, ret, err := gae.Estimate(b.GAEInput(), t.cfg.Gamma, t.cfg.Lambda)
	if err != nil {
		return err
	}
	if stats.Policy, err = t.policy.Update(ctx, b, adv, ret); err != nil {
		return err
	}

	s, err := t.snapshot(b, ret)
	if err != nil {
		return err
	}
	if err := t.buffer.Append(s); err != nil {
		return err
	}

	rotated := false
	if t.buffer.Full() {
		t.transition(AuxUpdate)
		snaps, err := t.buffer.Drain()
		if err != nil {
			return err
		}
		auxStats, err := t.aux.Update(ctx, snaps)
		if err != nil {
			return err
		}
		stats.Aux = &auxStats
		rotated = true
	}

	t.iteration++
	stats.Iteration = t.iteration
	t.logStats(stats)

	if rotated && t.hooks.AfterRotation != nil {
		if err := t.hooks.AfterRotation(ctx, t.checkpoint()); err != nil {
			return fmt.Errorf("afterRotation: %w", err)
		}
	}
	if t.hooks.AfterIteration != nil {
		if err := t.hooks.AfterIteration(ctx, stats); err != nil {
			return fmt.Errorf("afterIteration: %w", err)
		}
	}
	return nil
}

// snapshot records the action distributions and value estimates that
// the just-updated policy produces on the observations of b
func (t *Trainer) snapshot(b *rollout.Batch, ret []float64) (snapshot.Snapshot,
	error) {
	s := snapshot.Snapshot{
		Iteration:    t.iteration,
		Horizon:      b.Horizon,
		NumEnvs:      b.NumEnvs,
		ObsSize:      b.ObsSize,
		NumActions:   b.NumActions,
		Observations: append([]float64(nil), b.Observations...),
		Returns:      append([]float64(nil), ret...),
		LogProbs:     make([]float64, 0, len(b.LogProbs)),
		Values:       make([]float64, 0, len(b.Values)),
	}

	stepObs := b.NumEnvs * b.ObsSize
	for step := 0; step < b.Horizon; step++ {
		logits, values, err := t.actor.Act(
			b.Observations[step*stepObs : (step+1)*stepObs])
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("snapshot: %w", err)
		}
		if !floatutils.AllFinite(logits) || !floatutils.AllFinite(values) {
			return snapshot.Snapshot{}, fmt.Errorf("snapshot: %w: "+
				"non-finite policy output", ErrNumericalDivergence)
		}

		for e := 0; e < b.NumEnvs; e++ {
			row := logits[e*b.NumActions : (e+1)*b.NumActions]
			s.LogProbs = append(s.LogProbs, floatutils.LogSoftmax(nil, row)...)
		}
		s.Values = append(s.Values, values...)
	}
	return s, nil
}

// episodeStats returns the mean return and length and the number of
// the episodes finished on all ranks
func (t *Trainer) episodeStats(ctx context.Context,
	episodes []environment.Info) (float64, float64, int, error) {
	buf := make([]float64, 3)
	for _, ep := range episodes {
		buf[0] += ep.EpisodeReturn
		buf[1] += float64(ep.EpisodeLength)
		buf[2]++
	}
	if err := t.comm.AllReduceSum(ctx, buf); err != nil {
		return nan, nan, 0, err
	}
	if buf[2] == 0 {
		return nan, nan, 0, nil
	}
	return buf[0] / buf[2], buf[1] / buf[2], int(buf[2]), nil
}

// broadcastState overwrites the parameters, iteration, and interaction
// count of every rank with those of rank 0
func (t *Trainer) broadcastState(ctx context.Context) error {
	flat := t.model.Params().Flatten(nil)
	n := len(flat)
	flat = append(flat, float64(t.iteration), float64(t.interactions))
	if err := t.comm.Broadcast(ctx, 0, flat); err != nil {
		return fmt.Errorf("broadcastState: %w", err)
	}
	t.iteration = int(flat[n])
	t.interactions = int(flat[n+1])
	return t.model.Params().Unflatten(flat[:n])
}

// checkpoint returns a copy of the current training state
func (t *Trainer) checkpoint() Checkpoint {
	return Checkpoint{
		Interactions: t.interactions,
		Iteration:    t.iteration,
		Model:        t.model.Config().Descriptor(),
		Params:       t.model.Params().Clone(),
	}
}

func (t *Trainer) transition(s State) {
	t.state = s
	t.logger.Debug("state",
		zap.Stringer("state", s),
		zap.Int("iteration", t.iteration),
		zap.Int("interactions", t.interactions),
	)
}

func (t *Trainer) logStats(s Stats) {
	keys, values := s.Row()
	fields := make([]zap.Field, len(keys))
	for i := range keys {
		fields[i] = zap.Float64(keys[i], values[i])
	}
	t.logger.Info("iteration", fields...)
}

// Close releases the resources of the Trainer. The process group is
// not closed.
func (t *Trainer) Close() error {
	var firstErr error
	closers := []func() error{t.actor.Close, t.policy.Close, t.aux.Close}
	if t.evalActor != nil {
		closers = append(closers, t.evalActor.Close)
	}
	for _, c := range closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Learn trains a model with the given configuration on env as one rank
// of comm and returns the trained model
func Learn(ctx context.Context, cfg Config, env environment.VecEnv,
	comm dist.Comm, opts ...Option) (*model.PhasicValueModel, error) {
	t, err := New(cfg, env, comm, opts...)
	if err != nil {
		return nil, fmt.Errorf("learn: %w", err)
	}
	defer t.Close()

	if err := t.Run(ctx); err != nil {
		return nil, fmt.Errorf("learn: %w", err)
	}
	return t.Model(), nil
}

// MakeEnv returns the training environment of a rank. Ranks draw
// distinct seeds so that their experience differs.
func MakeEnv(cfg Config, rank int) (*environment.Vec, error) {
	mode, err := environment.ParseDistributionMode(cfg.DistributionMode)
	if err != nil {
		return nil, fmt.Errorf("makeEnv: %w: %v", ErrConfiguration, err)
	}
	return envconfig.Make(cfg.Env, cfg.NumEnvs, envconfig.Options{
		DistributionMode: mode,
		StartLevel:       cfg.StartLevel,
		NumLevels:        cfg.NumLevels,
		Seed:             envSeed(cfg, rank),
		EpisodeSteps:     cfg.EpisodeSteps,
	})
}

// MakeEvalEnv returns the evaluation environment of a rank. Its
// starting states are drawn from the unbounded level pool so that
// evaluation measures generalization beyond the training levels.
func MakeEvalEnv(cfg Config, rank int) (*environment.Vec, error) {
	mode, err := environment.ParseDistributionMode(cfg.DistributionMode)
	if err != nil {
		return nil, fmt.Errorf("makeEvalEnv: %w: %v", ErrConfiguration, err)
	}
	return envconfig.Make(cfg.Env, cfg.NumEnvs, envconfig.Options{
		DistributionMode: mode,
		StartLevel:       cfg.StartLevel,
		NumLevels:        0,
		Seed:             envSeed(cfg, rank) + 500_000,
		EpisodeSteps:     cfg.EpisodeSteps,
	})
}

func envSeed(cfg Config, rank int) uint64 {
	return cfg.Seed*1_000_000 + uint64(rank*cfg.NumEnvs)
}
