package ppg

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/model"
	"github.com/samuelfneumann/phasic/rollout"
)

// testConfig returns a small Config that trains on the constant
// environment
func testConfig(arch model.Arch) Config {
	cfg := DefaultConfig()
	cfg.Env = "constant"
	cfg.NumLevels = 0
	cfg.NumEnvs = 2
	cfg.Horizon = 4
	cfg.NMinibatch = 1
	cfg.NPi = 2
	cfg.AuxMBSize = 2
	cfg.NAuxEpochs = 2
	cfg.InteractsTotal = 64
	cfg.Hidden = []int{16}
	cfg.Arch = arch.String()
	cfg.Gamma = 0.5
	cfg.LR = 1e-2
	cfg.AuxLR = 1e-2
	cfg.Seed = 1
	return cfg
}

func newTestModel(t *testing.T, cfg Config) *model.PhasicValueModel {
	mc, err := cfg.ModelConfig(1, 2)
	require.NoError(t, err)
	m, err := model.New(mc)
	require.NoError(t, err)
	return m
}

func singleComm(t *testing.T) dist.Comm {
	comms, err := dist.NewLocal(1)
	require.NoError(t, err)
	t.Cleanup(func() { comms[0].Close() })
	return comms[0]
}

// testBatch returns a Batch of one-dimensional observations of a two
// action environment, along with varied advantages and returns
func testBatch(cfg Config) (*rollout.Batch, []float64, []float64) {
	rows := cfg.Horizon * cfg.NumEnvs
	b := &rollout.Batch{
		Horizon:      cfg.Horizon,
		NumEnvs:      cfg.NumEnvs,
		ObsSize:      1,
		NumActions:   2,
		Observations: make([]float64, rows),
		Actions:      make([]int, rows),
		Rewards:      make([]float64, rows),
		Dones:        make([]bool, rows),
		LogProb:      make([]float64, rows),
		Values:       make([]float64, rows),
		LogProbs:     make([]float64, 2*rows),
		Bootstrap:    make([]float64, cfg.NumEnvs),
		Episodes:     []environment.Info{},
	}
	adv := make([]float64, rows)
	ret := make([]float64, rows)
	for i := 0; i < rows; i++ {
		b.Observations[i] = 0.5 + float64(i)/float64(rows)
		b.Actions[i] = i % 2
		b.Rewards[i] = 1
		b.LogProb[i] = math.Log(0.5)
		b.LogProbs[2*i] = math.Log(0.5)
		b.LogProbs[2*i+1] = math.Log(0.5)
		adv[i] = float64(i%3) - 1
		ret[i] = 2 + float64(i%2)
	}
	return b, adv, ret
}

// policyGradients runs the policy-phase graph once on b and returns the
// local gradient of every learnable
func policyGradients(t *testing.T, p *PolicyOptimizer, b *rollout.Batch,
	adv, ret []float64, piScale, vfScale float64) map[string][]float64 {
	require.NoError(t, setInput(p.piScale, []float64{piScale}))
	require.NoError(t, setInput(p.vfScale, []float64{vfScale}))

	envs := make([]int, b.NumEnvs)
	for i := range envs {
		envs[i] = i
	}
	require.NoError(t, p.setMinibatch(b, adv, ret, envs))
	require.NoError(t, p.run())
	defer p.vm.Reset()

	flat, err := p.view.Gradients(nil)
	require.NoError(t, err)

	grads := make(map[string][]float64)
	var offset int
	for _, name := range p.view.LearnableNames() {
		tensor, ok := p.view.Model().Params().Get(name)
		require.True(t, ok)
		grads[name] = flat[offset : offset+tensor.Size()]
		offset += tensor.Size()
	}
	require.Equal(t, len(flat), offset)
	return grads
}

func allZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestPolicyPhaseGradientIsolation(t *testing.T) {
	tests := []struct {
		arch model.Arch

		// zeroOnValue lists the parameters that the value loss alone
		// must not reach
		zeroOnValue []string

		// reachedByValue lists parameters that the value loss alone
		// must reach
		reachedByValue []string
	}{
		{
			arch: model.Detach,
			zeroOnValue: []string{
				"pi/fc0/w", "pi/fc0/b", "pi/logits/w", "pi/logits/b",
			},
			reachedByValue: []string{"vf/head/w", "vf/head/b"},
		},
		{
			arch:           model.Dual,
			zeroOnValue:    []string{"pi/fc0/w", "pi/fc0/b", "pi/logits/w"},
			reachedByValue: []string{"vf/fc0/w", "vf/head/w"},
		},
		{
			arch:           model.Shared,
			zeroOnValue:    []string{"pi/logits/w", "pi/logits/b"},
			reachedByValue: []string{"pi/fc0/w", "vf/head/w"},
		},
	}

	for _, test := range tests {
		t.Run(test.arch.String(), func(t *testing.T) {
			cfg := testConfig(test.arch)
			m := newTestModel(t, cfg)
			p, err := NewPolicyOptimizer(m, cfg, singleComm(t), nil)
			require.NoError(t, err)
			defer p.Close()

			b, adv, ret := testBatch(cfg)

			valueOnly := policyGradients(t, p, b, adv, ret, 0, 1)
			for _, name := range test.zeroOnValue {
				assert.True(t, allZero(valueOnly[name]),
					"%v: value loss reached %v", test.arch, name)
			}
			for _, name := range test.reachedByValue {
				assert.False(t, allZero(valueOnly[name]),
					"%v: value loss did not reach %v", test.arch, name)
			}

			policyOnly := policyGradients(t, p, b, adv, ret, 1, 0)
			assert.True(t, allZero(policyOnly["vf/head/w"]))
			assert.True(t, allZero(policyOnly["vf/head/b"]))
			assert.False(t, allZero(policyOnly["pi/logits/w"]))

			_, hasAux := valueOnly["aux/head/w"]
			assert.False(t, hasAux, "policy phase trains the auxiliary head")
		})
	}
}

func TestPolicyPhaseRunsDoNotAccumulateGradients(t *testing.T) {
	cfg := testConfig(model.Detach)
	m := newTestModel(t, cfg)
	p, err := NewPolicyOptimizer(m, cfg, singleComm(t), nil)
	require.NoError(t, err)
	defer p.Close()

	b, adv, ret := testBatch(cfg)

	copyGrads := func(grads map[string][]float64) map[string][]float64 {
		out := make(map[string][]float64, len(grads))
		for name, g := range grads {
			out[name] = append([]float64(nil), g...)
		}
		return out
	}
	first := copyGrads(policyGradients(t, p, b, adv, ret, 0, 1))
	second := copyGrads(policyGradients(t, p, b, adv, ret, 0, 1))
	assert.Equal(t, first, second)
	assert.False(t, allZero(second["vf/head/b"]))

	// Value gradients of earlier runs do not leak into a policy run
	policyOnly := policyGradients(t, p, b, adv, ret, 1, 0)
	assert.True(t, allZero(policyOnly["vf/head/w"]))
	assert.True(t, allZero(policyOnly["vf/head/b"]))
}

func TestPolicyOptimizerEpochSchedule(t *testing.T) {
	cfg := testConfig(model.Dual)
	cfg.NMinibatch = 2
	cfg.NEpochPi = 3
	cfg.NEpochVf = 1
	m := newTestModel(t, cfg)

	var steps int
	hook := func(_ context.Context, phase model.Phase,
		_ *model.PhasicValueModel) error {
		assert.Equal(t, model.PolicyPhase, phase)
		steps++
		return nil
	}

	p, err := NewPolicyOptimizer(m, cfg, singleComm(t), hook)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, 3, p.Epochs())

	before := m.Params().Clone()
	b, adv, ret := testBatch(cfg)
	stats, err := p.Update(context.Background(), b, adv, ret)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Steps)
	assert.Equal(t, 6, steps)
	assert.False(t, m.Params().Equal(before))
	assert.Greater(t, stats.VfLoss, 0.0)
	assert.Greater(t, stats.Entropy, 0.0)
	assert.GreaterOrEqual(t, stats.ClipFrac, 0.0)
	assert.LessOrEqual(t, stats.ClipFrac, 1.0)
}

func TestPolicyOptimizerValueEpochsOnly(t *testing.T) {
	cfg := testConfig(model.Dual)
	cfg.NEpochPi = 0
	cfg.NEpochVf = 2
	m := newTestModel(t, cfg)

	p, err := NewPolicyOptimizer(m, cfg, singleComm(t), nil)
	require.NoError(t, err)
	defer p.Close()

	logits, _ := m.Params().Get("pi/logits/w")
	logitsBefore := append([]float64(nil), logits.Data...)

	b, adv, ret := testBatch(cfg)
	stats, err := p.Update(context.Background(), b, adv, ret)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Steps)
	assert.Equal(t, 0.0, stats.PiLoss)

	logits, _ = m.Params().Get("pi/logits/w")
	assert.Equal(t, logitsBefore, logits.Data)
}

func TestPolicyOptimizerRejectsMismatchedBatch(t *testing.T) {
	cfg := testConfig(model.Shared)
	m := newTestModel(t, cfg)
	p, err := NewPolicyOptimizer(m, cfg, singleComm(t), nil)
	require.NoError(t, err)
	defer p.Close()

	other := cfg
	other.Horizon = 2 * cfg.Horizon
	b, adv, ret := testBatch(other)
	_, err = p.Update(context.Background(), b, adv, ret)
	assert.Error(t, err)

	b, adv, ret = testBatch(cfg)
	_, err = p.Update(context.Background(), b, adv[1:], ret)
	assert.Error(t, err)
}

func TestPolicyOptimizerNonFiniteLoss(t *testing.T) {
	cfg := testConfig(model.Shared)
	m := newTestModel(t, cfg)
	p, err := NewPolicyOptimizer(m, cfg, singleComm(t), nil)
	require.NoError(t, err)
	defer p.Close()

	b, adv, ret := testBatch(cfg)
	ret[0] = math.Inf(1)
	_, err = p.Update(context.Background(), b, adv, ret)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumericalDivergence)
}
