package ppg

import (
	"context"
	"fmt"

	"github.com/samuelfneumann/phasic/buffer/snapshot"
	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/model"
	"github.com/samuelfneumann/phasic/solver"
	"github.com/samuelfneumann/phasic/utils/op"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
)

// AuxStats summarizes one auxiliary phase. Each loss term is averaged
// over the optimizer steps of the phase and over the process group. Terms
// that the architecture does not produce are 0.
type AuxStats struct {
	PolDistance float64
	VfTrue      float64
	VfAux       float64
	Steps       int
}

// AuxDistiller performs the auxiliary phase: epochs of minibatch
// updates over every Snapshot retained since the last auxiliary phase.
// The loss of a minibatch is the weighted sum, with weights from
// name2coef, of
//
//	pol_distance = KL(stored‖current) of the action distributions
//	vf_true      = ½·mean((V − R)²) on the value head
//	vf_aux       = ½·mean((V_aux − R)²) on the auxiliary value head
//
// where the auxiliary head only exists in the detach and dual
// architectures.
type AuxDistiller struct {
	*learner
	cfg   Config
	terms []string
	rows  int
	rng   *rand.Rand

	oldLogProbs *G.Node
	ret         *G.Node

	termVals []G.Value

	obs, oldLogProbsData, retData []float64
}

// NewAuxDistiller returns an AuxDistiller training m with the
// auxiliary-phase settings of cfg. The hook, if not nil, is called
// after every optimizer step.
func NewAuxDistiller(m *model.PhasicValueModel, cfg Config, comm dist.Comm,
	hook StepHook) (*AuxDistiller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("newAuxDistiller: %w", err)
	}
	rows := cfg.AuxMBSize * cfg.Horizon
	mc := m.Config()

	view, err := m.NewView(rows, model.AuxPhase)
	if err != nil {
		return nil, fmt.Errorf("newAuxDistiller: %w", err)
	}

	a := &AuxDistiller{
		cfg:             cfg,
		terms:           Terms(mc.Arch),
		rows:            rows,
		rng:             rand.New(rand.NewSource(cfg.Seed*1000 + 500 + uint64(comm.Rank()))),
		oldLogProbs:     newInput(view, "oldLogProbs", rows, mc.NumActions),
		ret:             newInput(view, "returns", rows),
		obs:             make([]float64, rows*mc.ObsSize),
		oldLogProbsData: make([]float64, rows*mc.NumActions),
		retData:         make([]float64, rows),
	}

	var loss *G.Node
	a.termVals = make([]G.Value, len(a.terms))
	for i, name := range a.terms {
		var term *G.Node
		switch name {
		case PolDistance:
			term = G.Must(G.Mean(op.CategoricalKL(a.oldLogProbs,
				view.LogProbs())))
		case VfTrue:
			term = halfMSE(view.Value(), a.ret)
		case VfAux:
			term = halfMSE(view.AuxValue(), a.ret)
		}
		G.Read(term, &a.termVals[i])

		weighted := scale(cfg.Coef(name), term)
		if loss == nil {
			loss = weighted
		} else {
			loss = G.Must(G.Add(loss, weighted))
		}
	}

	s, err := solver.New(cfg.Optimizer, cfg.AuxLR)
	if err != nil {
		return nil, fmt.Errorf("newAuxDistiller: %w", err)
	}
	if a.learner, err = newLearner(view, loss, s, comm, cfg.VerifyParams,
		hook); err != nil {
		return nil, fmt.Errorf("newAuxDistiller: %w", err)
	}
	return a, nil
}

// Terms returns the loss terms the AuxDistiller trains
func (a *AuxDistiller) Terms() []string {
	return a.terms
}

// Update runs one auxiliary phase over snaps. Each epoch visits every
// (environment, snapshot) pair once, in a fresh random order, with
// aux_mbsize pairs per minibatch.
func (a *AuxDistiller) Update(ctx context.Context,
	snaps []snapshot.Snapshot) (AuxStats, error) {
	mc := a.view.Model().Config()
	for i, s := range snaps {
		if err := s.Validate(); err != nil {
			return AuxStats{}, fmt.Errorf("update: snapshot %d: %w", i, err)
		}
		if s.Horizon != a.cfg.Horizon || s.NumEnvs != a.cfg.NumEnvs ||
			s.ObsSize != mc.ObsSize || s.NumActions != mc.NumActions {
			return AuxStats{}, fmt.Errorf("update: snapshot %d has layout "+
				"(%d, %d, %d, %d), want (%d, %d, %d, %d)", i, s.Horizon,
				s.NumEnvs, s.ObsSize, s.NumActions, a.cfg.Horizon,
				a.cfg.NumEnvs, mc.ObsSize, mc.NumActions)
		}
	}

	columns := len(snaps) * a.cfg.NumEnvs
	if columns == 0 || columns%a.cfg.AuxMBSize != 0 {
		return AuxStats{}, fmt.Errorf("update: %d (environment, snapshot) "+
			"pairs cannot be split into minibatches of %d", columns,
			a.cfg.AuxMBSize)
	}

	var stats AuxStats
	sums := make([]float64, len(a.terms))
	mbStats := make([]float64, len(a.terms))
	for epoch := 0; epoch < a.cfg.NAuxEpochs; epoch++ {
		perm := a.rng.Perm(columns)
		for start := 0; start < columns; start += a.cfg.AuxMBSize {
			if err := a.setMinibatch(snaps, perm[start:start+a.cfg.AuxMBSize]); err != nil {
				return AuxStats{}, fmt.Errorf("update: %w", err)
			}
			if err := a.run(); err != nil {
				return AuxStats{}, fmt.Errorf("update: %w", err)
			}

			for i, v := range a.termVals {
				mbStats[i] = scalar(v)
			}
			if err := a.apply(ctx, mbStats); err != nil {
				return AuxStats{}, fmt.Errorf("update: %w", err)
			}
			for i, v := range mbStats {
				sums[i] += v
			}
			stats.Steps++
		}
	}

	if stats.Steps > 0 {
		for i, name := range a.terms {
			mean := sums[i] / float64(stats.Steps)
			switch name {
			case PolDistance:
				stats.PolDistance = mean
			case VfTrue:
				stats.VfTrue = mean
			case VfAux:
				stats.VfAux = mean
			}
		}
	}
	return stats, nil
}

// setMinibatch gathers every step of the given (environment, snapshot)
// pairs into the input nodes. Pair c is environment c % NumEnvs of
// snapshot c / NumEnvs.
func (a *AuxDistiller) setMinibatch(snaps []snapshot.Snapshot,
	columns []int) error {
	n := a.cfg.NumEnvs
	row := 0
	for _, c := range columns {
		s, e := snaps[c/n], c%n
		for t := 0; t < s.Horizon; t++ {
			i := t*n + e
			copy(a.obs[row*s.ObsSize:(row+1)*s.ObsSize],
				s.Observations[i*s.ObsSize:(i+1)*s.ObsSize])
			copy(a.oldLogProbsData[row*s.NumActions:(row+1)*s.NumActions],
				s.LogProbs[i*s.NumActions:(i+1)*s.NumActions])
			a.retData[row] = s.Returns[i]
			row++
		}
	}

	if err := a.view.SetObs(a.obs); err != nil {
		return err
	}
	if err := setInput(a.oldLogProbs, a.oldLogProbsData); err != nil {
		return err
	}
	return setInput(a.ret, a.retData)
}

// Close releases the resources of the AuxDistiller
func (a *AuxDistiller) Close() error {
	return a.close()
}
