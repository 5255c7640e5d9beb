package ppg

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/initwfn"
	"github.com/samuelfneumann/phasic/model"
	"github.com/samuelfneumann/phasic/network"
	"github.com/samuelfneumann/phasic/solver"
	"github.com/spf13/viper"
)

// Names of the auxiliary-phase loss terms that name2coef may weight
const (
	PolDistance = "pol_distance"
	VfTrue      = "vf_true"
	VfAux       = "vf_aux"
)

// Terms returns the auxiliary-phase loss terms produced by arch
func Terms(arch model.Arch) []string {
	if arch.HasAuxHead() {
		return []string{PolDistance, VfTrue, VfAux}
	}
	return []string{PolDistance, VfTrue}
}

// Config configures a training run. Every field has a default, see
// DefaultConfig.
type Config struct {
	// Environment
	Env              string `mapstructure:"env" yaml:"env"`
	DistributionMode string `mapstructure:"distribution_mode" yaml:"distribution_mode"`
	StartLevel       int    `mapstructure:"start_level" yaml:"start_level"`
	NumLevels        int    `mapstructure:"num_levels" yaml:"num_levels"`
	EpisodeSteps     int    `mapstructure:"episode_steps" yaml:"episode_steps"`
	NumEnvs          int    `mapstructure:"num_envs" yaml:"num_envs"`
	InteractsTotal   int    `mapstructure:"interacts_total" yaml:"interacts_total"`
	Eval             bool   `mapstructure:"eval" yaml:"eval"`

	// Model
	Arch       string  `mapstructure:"arch" yaml:"arch"`
	Hidden     []int   `mapstructure:"hidden" yaml:"hidden"`
	Activation string  `mapstructure:"activation" yaml:"activation"`
	Init       string  `mapstructure:"init" yaml:"init"`
	InitGain   float64 `mapstructure:"init_gain" yaml:"init_gain"`

	// Policy phase
	Optimizer  string  `mapstructure:"optimizer" yaml:"optimizer"`
	Gamma      float64 `mapstructure:"gamma" yaml:"gamma"`
	Lambda     float64 `mapstructure:"lambda" yaml:"lambda"`
	LR         float64 `mapstructure:"lr" yaml:"lr"`
	ClipParam  float64 `mapstructure:"clip_param" yaml:"clip_param"`
	KLPenalty  float64 `mapstructure:"kl_penalty" yaml:"kl_penalty"`
	EntCoef    float64 `mapstructure:"ent_coef" yaml:"ent_coef"`
	NMinibatch int     `mapstructure:"nminibatch" yaml:"nminibatch"`
	NEpochPi   int     `mapstructure:"n_epoch_pi" yaml:"n_epoch_pi"`
	NEpochVf   int     `mapstructure:"n_epoch_vf" yaml:"n_epoch_vf"`
	Horizon    int     `mapstructure:"horizon" yaml:"horizon"`

	// Auxiliary phase
	AuxLR      float64            `mapstructure:"aux_lr" yaml:"aux_lr"`
	AuxMBSize  int                `mapstructure:"aux_mbsize" yaml:"aux_mbsize"`
	NAuxEpochs int                `mapstructure:"n_aux_epochs" yaml:"n_aux_epochs"`
	NPi        int                `mapstructure:"n_pi" yaml:"n_pi"`
	Name2Coef  map[string]float64 `mapstructure:"name2coef" yaml:"name2coef"`

	Seed uint64 `mapstructure:"seed" yaml:"seed"`

	// VerifyParams checks that parameters are bit-identical across
	// ranks after every optimizer step
	VerifyParams bool `mapstructure:"verify_params" yaml:"verify_params"`
}

// DefaultConfig returns the default Config
func DefaultConfig() Config {
	return Config{
		Env:              "cartpole",
		DistributionMode: string(environment.Easy),
		StartLevel:       0,
		NumLevels:        200,
		NumEnvs:          64,
		InteractsTotal:   25_000_000,

		Arch:       model.Dual.String(),
		Hidden:     []int{64, 64},
		Activation: "relu",
		Init:       string(initwfn.GlorotU),
		InitGain:   1.0,

		Optimizer:  string(solver.Adam),
		Gamma:      0.999,
		Lambda:     0.95,
		LR:         5e-4,
		ClipParam:  0.2,
		KLPenalty:  0.0,
		EntCoef:    0.01,
		NMinibatch: 8,
		NEpochPi:   1,
		NEpochVf:   1,
		Horizon:    256,

		AuxLR:      5e-4,
		AuxMBSize:  4,
		NAuxEpochs: 6,
		NPi:        32,
		Name2Coef:  map[string]float64{PolDistance: 1.0, VfTrue: 1.0},
	}
}

// Coef returns the coefficient of an auxiliary-phase loss term. Terms
// absent from Name2Coef have coefficient 0, except vf_aux which
// defaults to 1.
func (c Config) Coef(term string) float64 {
	if coef, ok := c.Name2Coef[term]; ok {
		return coef
	}
	if term == VfAux {
		return 1.0
	}
	return 0.0
}

// Validate checks the Config for consistency. Every error wraps
// ErrConfiguration.
func (c Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("validate: %w: %v", ErrConfiguration,
			fmt.Sprintf(format, args...))
	}

	positive := []struct {
		name  string
		value int
	}{
		{"num_envs", c.NumEnvs},
		{"interacts_total", c.InteractsTotal},
		{"nminibatch", c.NMinibatch},
		{"horizon", c.Horizon},
		{"aux_mbsize", c.AuxMBSize},
		{"n_pi", c.NPi},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fail("%v must be positive, got %v", p.name, p.value)
		}
	}
	if c.NEpochPi < 0 || c.NEpochVf < 0 || c.NAuxEpochs < 0 {
		return fail("epoch counts must be non-negative")
	}
	if c.StartLevel < 0 || c.NumLevels < 0 || c.EpisodeSteps < 0 {
		return fail("start_level, num_levels and episode_steps must be " +
			"non-negative")
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fail("hidden layer %d has size %v", i, h)
		}
	}

	unit := []struct {
		name  string
		value float64
	}{{"gamma", c.Gamma}, {"lambda", c.Lambda}}
	for _, u := range unit {
		if !(u.value >= 0 && u.value <= 1) {
			return fail("%v must be in [0, 1], got %v", u.name, u.value)
		}
	}
	if !(c.LR > 0) || !(c.AuxLR > 0) {
		return fail("learning rates must be positive, got lr=%v aux_lr=%v",
			c.LR, c.AuxLR)
	}
	if !(c.ClipParam > 0) {
		return fail("clip_param must be positive, got %v", c.ClipParam)
	}
	if !(c.KLPenalty >= 0) || !(c.EntCoef >= 0) {
		return fail("kl_penalty (%v) and ent_coef (%v) must be "+
			"non-negative", c.KLPenalty, c.EntCoef)
	}

	if c.NumEnvs%c.NMinibatch != 0 {
		return fail("num_envs (%v) must be divisible by nminibatch (%v)",
			c.NumEnvs, c.NMinibatch)
	}
	if columns := c.NumEnvs * c.NPi; c.AuxMBSize > columns {
		return fail("aux_mbsize (%v) exceeds the %v (environment, "+
			"snapshot) pairs held by the buffer", c.AuxMBSize, columns)
	} else if columns%c.AuxMBSize != 0 {
		return fail("the %v (environment, snapshot) pairs held by the "+
			"buffer cannot be split into minibatches of %v", columns,
			c.AuxMBSize)
	}

	arch, err := model.ParseArch(c.Arch)
	if err != nil {
		return fail("%v", err)
	}
	if _, err := environment.ParseDistributionMode(c.DistributionMode); err != nil {
		return fail("%v", err)
	}
	if _, err := network.ActivationByName(c.Activation); err != nil {
		return fail("%v", err)
	}
	if _, err := initwfn.Parse(c.Init, c.InitGain); err != nil {
		return fail("%v", err)
	}
	if _, err := solver.New(c.Optimizer, c.LR); err != nil {
		return fail("%v", err)
	}

	terms := Terms(arch)
	for _, name := range sortedKeys(c.Name2Coef) {
		coef := c.Name2Coef[name]
		if !contains(terms, name) {
			return fail("name2coef: architecture %v has no loss term %q "+
				"(terms: %v)", arch, name, strings.Join(terms, ", "))
		}
		if coef < 0 || math.IsNaN(coef) || math.IsInf(coef, 0) {
			return fail("name2coef: coefficient of %v must be finite and "+
				"non-negative, got %v", name, coef)
		}
	}
	return nil
}

// ModelConfig returns the configuration of the model trained on an
// environment with the given observation size and number of actions
func (c Config) ModelConfig(obsSize, numActions int) (model.Config, error) {
	arch, err := model.ParseArch(c.Arch)
	if err != nil {
		return model.Config{}, fmt.Errorf("modelConfig: %w", err)
	}
	act, err := network.ActivationByName(c.Activation)
	if err != nil {
		return model.Config{}, fmt.Errorf("modelConfig: %w", err)
	}
	init, err := initwfn.Parse(c.Init, c.InitGain)
	if err != nil {
		return model.Config{}, fmt.Errorf("modelConfig: %w", err)
	}
	return model.Config{
		Arch:       arch,
		ObsSize:    obsSize,
		NumActions: numActions,
		Hidden:     append([]int(nil), c.Hidden...),
		Activation: act,
		Init:       init,
	}, nil
}

// LoadConfig reads a Config from v, starting from the defaults, and
// validates it
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	// Decoding merges into existing slices and maps, so options given in
	// v replace their defaults instead
	if v.Get("hidden") != nil {
		cfg.Hidden = nil
	}
	if v.Get("name2coef") != nil {
		cfg.Name2Coef = nil
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("loadConfig: %w: %v", ErrConfiguration,
			err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("loadConfig: %w", err)
	}
	return cfg, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
