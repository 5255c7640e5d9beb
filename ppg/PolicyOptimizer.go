package ppg

import (
	"context"
	"fmt"

	"github.com/samuelfneumann/phasic/buffer/gae"
	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/model"
	"github.com/samuelfneumann/phasic/rollout"
	"github.com/samuelfneumann/phasic/solver"
	"github.com/samuelfneumann/phasic/utils/op"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
)

// PolicyStats summarizes one policy phase. Losses are averaged over the
// optimizer steps that trained them and over the process group.
type PolicyStats struct {
	PiLoss   float64
	VfLoss   float64
	KL       float64
	Entropy  float64
	ClipFrac float64
	Steps    int
}

// PolicyOptimizer performs the policy phase: epochs of minibatch
// updates of the clipped surrogate objective and the value regression
// loss on the most recent Batch.
//
// The loss of a minibatch is
//
//	piScale·(−mean(min(r·Â, clip(r, 1−ε, 1+ε)·Â)) + β·KL(old‖new) − c·H)
//	    + vfScale·½·mean((V − R)²)
//
// where r is the probability ratio of the taken actions, Â are the
// advantages standardized over the minibatch, β is the KL penalty, c
// the entropy coefficient, and H the policy entropy. The policy terms
// are trained for n_epoch_pi epochs and the value term for n_epoch_vf
// epochs.
type PolicyOptimizer struct {
	*learner
	cfg       Config
	envsPerMB int
	rows      int
	rng       *rand.Rand

	actions     *G.Node
	oldLogProb  *G.Node
	adv         *G.Node
	ret         *G.Node
	oldLogProbs *G.Node
	piScale     *G.Node
	vfScale     *G.Node

	piLossVal, vfLossVal, klVal, entVal, ratioVal G.Value

	mb minibatch
}

// minibatch holds the scratch inputs of one optimizer step
type minibatch struct {
	obs, actions, oldLogProb, adv, ret, oldLogProbs []float64
}

func newMinibatch(rows, obsSize, numActions int) minibatch {
	return minibatch{
		obs:         make([]float64, rows*obsSize),
		actions:     make([]float64, rows*numActions),
		oldLogProb:  make([]float64, rows),
		adv:         make([]float64, rows),
		ret:         make([]float64, rows),
		oldLogProbs: make([]float64, rows*numActions),
	}
}

// NewPolicyOptimizer returns a PolicyOptimizer training m with the
// policy-phase settings of cfg. The hook, if not nil, is called after
// every optimizer step.
func NewPolicyOptimizer(m *model.PhasicValueModel, cfg Config, comm dist.Comm,
	hook StepHook) (*PolicyOptimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("newPolicyOptimizer: %w", err)
	}
	envsPerMB := cfg.NumEnvs / cfg.NMinibatch
	rows := envsPerMB * cfg.Horizon
	numActions := m.Config().NumActions

	view, err := m.NewView(rows, model.PolicyPhase)
	if err != nil {
		return nil, fmt.Errorf("newPolicyOptimizer: %w", err)
	}

	p := &PolicyOptimizer{
		cfg:         cfg,
		envsPerMB:   envsPerMB,
		rows:        rows,
		rng:         rand.New(rand.NewSource(cfg.Seed*1000 + uint64(comm.Rank()))),
		actions:     newInput(view, "actions", rows, numActions),
		oldLogProb:  newInput(view, "oldLogProb", rows),
		adv:         newInput(view, "advantages", rows),
		ret:         newInput(view, "returns", rows),
		oldLogProbs: newInput(view, "oldLogProbs", rows, numActions),
		piScale:     newInput(view, "piScale"),
		vfScale:     newInput(view, "vfScale"),
		mb:          newMinibatch(rows, m.Config().ObsSize, numActions),
	}

	// Clipped surrogate
	logProb := op.SelectLogProb(view.LogProbs(), p.actions)
	ratio := G.Must(G.Exp(G.Must(G.Sub(logProb, p.oldLogProb))))
	surrogate, err := op.ClippedSurrogate(ratio, p.adv, cfg.ClipParam)
	if err != nil {
		return nil, fmt.Errorf("newPolicyOptimizer: %w", err)
	}
	piLoss := G.Must(G.Neg(G.Must(G.Mean(surrogate))))

	kl := G.Must(G.Mean(op.CategoricalKL(p.oldLogProbs, view.LogProbs())))
	entropy := G.Must(G.Mean(op.CategoricalEntropy(view.LogProbs())))

	policyTerm := G.Must(G.Add(piLoss, scale(cfg.KLPenalty, kl)))
	policyTerm = G.Must(G.Sub(policyTerm, scale(cfg.EntCoef, entropy)))

	vfLoss := halfMSE(view.Value(), p.ret)

	loss := G.Must(G.Add(
		G.Must(G.Mul(p.piScale, policyTerm)),
		G.Must(G.Mul(p.vfScale, vfLoss)),
	))

	G.Read(piLoss, &p.piLossVal)
	G.Read(vfLoss, &p.vfLossVal)
	G.Read(kl, &p.klVal)
	G.Read(entropy, &p.entVal)
	G.Read(ratio, &p.ratioVal)

	s, err := solver.New(cfg.Optimizer, cfg.LR)
	if err != nil {
		return nil, fmt.Errorf("newPolicyOptimizer: %w", err)
	}
	if p.learner, err = newLearner(view, loss, s, comm, cfg.VerifyParams,
		hook); err != nil {
		return nil, fmt.Errorf("newPolicyOptimizer: %w", err)
	}
	return p, nil
}

// Epochs returns the number of epochs of a policy phase
func (p *PolicyOptimizer) Epochs() int {
	if p.cfg.NEpochPi > p.cfg.NEpochVf {
		return p.cfg.NEpochPi
	}
	return p.cfg.NEpochVf
}

// Update runs one policy phase on b, whose advantages and returns are
// adv and ret
func (p *PolicyOptimizer) Update(ctx context.Context, b *rollout.Batch,
	adv, ret []float64) (PolicyStats, error) {
	if b.NumEnvs != p.cfg.NumEnvs || b.Horizon != p.cfg.Horizon {
		return PolicyStats{}, fmt.Errorf("update: batch of %d steps of %d "+
			"environments, want %d of %d", b.Horizon, b.NumEnvs,
			p.cfg.Horizon, p.cfg.NumEnvs)
	}
	if len(adv) != b.Len() || len(ret) != b.Len() {
		return PolicyStats{}, fmt.Errorf("update: %d advantages and %d "+
			"returns for %d steps", len(adv), len(ret), b.Len())
	}

	var stats PolicyStats
	var piSteps, vfSteps int
	sums := make([]float64, 5)
	for epoch := 0; epoch < p.Epochs(); epoch++ {
		trainPi, trainVf := epoch < p.cfg.NEpochPi, epoch < p.cfg.NEpochVf
		if err := setInput(p.piScale, []float64{indicator(trainPi)}); err != nil {
			return PolicyStats{}, fmt.Errorf("update: %w", err)
		}
		if err := setInput(p.vfScale, []float64{indicator(trainVf)}); err != nil {
			return PolicyStats{}, fmt.Errorf("update: %w", err)
		}

		perm := p.rng.Perm(b.NumEnvs)
		for start := 0; start < b.NumEnvs; start += p.envsPerMB {
			if err := p.setMinibatch(b, adv, ret, perm[start:start+p.envsPerMB]); err != nil {
				return PolicyStats{}, fmt.Errorf("update: %w", err)
			}
			if err := p.run(); err != nil {
				return PolicyStats{}, fmt.Errorf("update: %w", err)
			}

			mbStats := []float64{
				scalar(p.piLossVal),
				scalar(p.vfLossVal),
				scalar(p.klVal),
				scalar(p.entVal),
				p.clipFrac(),
			}
			if err := p.apply(ctx, mbStats); err != nil {
				return PolicyStats{}, fmt.Errorf("update: %w", err)
			}

			if trainPi {
				piSteps++
				sums[0] += mbStats[0]
				sums[2] += mbStats[2]
				sums[3] += mbStats[3]
				sums[4] += mbStats[4]
			}
			if trainVf {
				vfSteps++
				sums[1] += mbStats[1]
			}
			stats.Steps++
		}
	}

	if piSteps > 0 {
		stats.PiLoss = sums[0] / float64(piSteps)
		stats.KL = sums[2] / float64(piSteps)
		stats.Entropy = sums[3] / float64(piSteps)
		stats.ClipFrac = sums[4] / float64(piSteps)
	}
	if vfSteps > 0 {
		stats.VfLoss = sums[1] / float64(vfSteps)
	}
	return stats, nil
}

// setMinibatch gathers every step of the given environments of b into
// the input nodes
func (p *PolicyOptimizer) setMinibatch(b *rollout.Batch, adv, ret []float64,
	envs []int) error {
	mb := p.mb
	obsSize, numActions := b.ObsSize, b.NumActions
	for i := range mb.actions {
		mb.actions[i] = 0
	}

	row := 0
	for t := 0; t < b.Horizon; t++ {
		for _, e := range envs {
			i := t*b.NumEnvs + e
			copy(mb.obs[row*obsSize:(row+1)*obsSize],
				b.Observations[i*obsSize:(i+1)*obsSize])
			copy(mb.oldLogProbs[row*numActions:(row+1)*numActions],
				b.LogProbs[i*numActions:(i+1)*numActions])
			mb.actions[row*numActions+b.Actions[i]] = 1
			mb.oldLogProb[row] = b.LogProb[i]
			mb.adv[row] = adv[i]
			mb.ret[row] = ret[i]
			row++
		}
	}
	copy(mb.adv, gae.Standardize(mb.adv))

	if err := p.view.SetObs(mb.obs); err != nil {
		return err
	}
	inputs := []struct {
		node *G.Node
		data []float64
	}{
		{p.actions, mb.actions},
		{p.oldLogProb, mb.oldLogProb},
		{p.adv, mb.adv},
		{p.ret, mb.ret},
		{p.oldLogProbs, mb.oldLogProbs},
	}
	for _, in := range inputs {
		if err := setInput(in.node, in.data); err != nil {
			return err
		}
	}
	return nil
}

// clipFrac returns the fraction of probability ratios of the last run
// that lie outside the clip range
func (p *PolicyOptimizer) clipFrac() float64 {
	ratios := values(p.ratioVal)
	var clipped int
	for _, r := range ratios {
		if op.Clipped(r, p.cfg.ClipParam) {
			clipped++
		}
	}
	return float64(clipped) / float64(len(ratios))
}

// Close releases the resources of the PolicyOptimizer
func (p *PolicyOptimizer) Close() error {
	return p.close()
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
