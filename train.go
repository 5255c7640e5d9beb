package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/experiment"
	"github.com/samuelfneumann/phasic/initwfn"
	"github.com/samuelfneumann/phasic/ppg"
)

// launch holds the options of the train command that are not part of
// the training configuration
type launch struct {
	config      string
	verbose     bool
	progress    bool
	procs       int
	rank        int
	worldSize   int
	coordinator string
	timeout     time.Duration
}

func newTrainCmd() *cobra.Command {
	var l launch
	return newTrainCommand(viper.New(), &l)
}

// newTrainCommand returns the train command, which stores its launch
// options in l and binds its configuration flags to v
func newTrainCommand(v *viper.Viper, l *launch) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a policy",
		Long: "Train a policy with Phasic Policy Gradient. Options are " +
			"read from the config file, then PHASIC_* environment " +
			"variables, then flags, with later sources taking precedence.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return train(cmd.Context(), v, *l, cmd.Flags())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&l.config, "config", "c", "", "YAML config file")
	flags.BoolVarP(&l.verbose, "verbose", "v", false, "log at debug level")
	flags.BoolVar(&l.progress, "progress", false, "show a progress bar")
	flags.IntVar(&l.procs, "procs", 1, "number of in-process ranks")
	flags.IntVar(&l.rank, "rank", 0, "rank of this process in a "+
		"websocket process group")
	flags.IntVar(&l.worldSize, "world-size", 1, "size of the websocket "+
		"process group")
	flags.StringVar(&l.coordinator, "coordinator", "localhost:29500",
		"address that rank 0 listens on and other ranks dial")
	flags.DurationVar(&l.timeout, "timeout", dist.DefaultTimeout,
		"how long a rank waits at a collective")

	addConfigFlags(flags, v)
	return cmd
}

// addConfigFlags adds a flag for every option of the training and
// experiment configurations and binds it to its key in v
func addConfigFlags(flags *pflag.FlagSet, v *viper.Viper) {
	d := ppg.DefaultConfig()

	flags.String("env", d.Env, "environment name")
	flags.String("distribution-mode", d.DistributionMode,
		"spread of starting states (easy or hard)")
	flags.Int("start-level", d.StartLevel, "first level of the pool")
	flags.Int("num-levels", d.NumLevels, "number of levels, 0 is unbounded")
	flags.Int("episode-steps", d.EpisodeSteps, "episode step limit "+
		"override")
	flags.Int("num-envs", d.NumEnvs, "environments per rank")
	flags.Int("interacts-total", d.InteractsTotal, "environment steps "+
		"over all ranks")
	flags.Bool("eval", d.Eval, "also evaluate on unbounded levels")

	flags.String("arch", d.Arch, "shared, detach, or dual")
	flags.IntSlice("hidden", d.Hidden, "hidden layer sizes")
	flags.String("activation", d.Activation, "hidden layer activation")
	inits := make([]string, 0, len(initwfn.Kinds()))
	for _, k := range initwfn.Kinds() {
		inits = append(inits, string(k))
	}
	flags.String("init", d.Init, "weight initializer, one of "+
		strings.Join(inits, ", "))
	flags.Float64("init-gain", d.InitGain, "weight initializer gain")

	flags.String("optimizer", d.Optimizer, "adam, rmsprop, or sgd")
	flags.Float64("gamma", d.Gamma, "discount factor")
	flags.Float64("lambda", d.Lambda, "GAE lambda")
	flags.Float64("lr", d.LR, "policy phase learning rate")
	flags.Float64("clip-param", d.ClipParam, "surrogate clip range")
	flags.Float64("kl-penalty", d.KLPenalty, "policy phase KL penalty")
	flags.Float64("ent-coef", d.EntCoef, "entropy bonus coefficient")
	flags.Int("nminibatch", d.NMinibatch, "policy phase minibatches")
	flags.Int("n-epoch-pi", d.NEpochPi, "policy epochs per policy phase")
	flags.Int("n-epoch-vf", d.NEpochVf, "value epochs per policy phase")
	flags.Int("horizon", d.Horizon, "steps per environment per iteration")

	flags.Float64("aux-lr", d.AuxLR, "auxiliary phase learning rate")
	flags.Int("aux-mbsize", d.AuxMBSize, "(environment, snapshot) pairs "+
		"per auxiliary minibatch")
	flags.Int("n-aux-epochs", d.NAuxEpochs, "epochs per auxiliary phase")
	flags.Int("n-pi", d.NPi, "policy phases per auxiliary phase")
	flags.StringToString("name2coef", nil, "auxiliary loss coefficients, "+
		"e.g. pol_distance=1,vf_true=1")

	flags.Uint64("seed", d.Seed, "random seed")
	flags.Bool("verify-params", d.VerifyParams, "check parameters are "+
		"identical across ranks after every step")

	flags.String("dir", "", "output directory")
	flags.Int("checkpoint-interval", 0, "minimum interactions between "+
		"checkpoints, negative disables")
	flags.String("resume", "", "checkpoint to resume from, or latest")
	flags.String("run", "", "run identifier")

	flags.VisitAll(func(f *pflag.Flag) {
		switch f.Name {
		case "config", "verbose", "progress", "procs", "rank",
			"world-size", "coordinator", "timeout", "name2coef":
			return
		}
		v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

// loadConfigs resolves the training and experiment configurations
func loadConfigs(v *viper.Viper, l launch,
	flags *pflag.FlagSet) (ppg.Config, experiment.Config, error) {
	v.SetEnvPrefix("PHASIC")
	v.AutomaticEnv()
	if l.config != "" {
		v.SetConfigFile(l.config)
		if err := v.ReadInConfig(); err != nil {
			return ppg.Config{}, experiment.Config{}, fmt.Errorf("%w: %v",
				ppg.ErrConfiguration, err)
		}
	}
	if flags.Changed("name2coef") {
		raw, err := flags.GetStringToString("name2coef")
		if err != nil {
			return ppg.Config{}, experiment.Config{}, err
		}
		coefs, err := parseCoefs(raw)
		if err != nil {
			return ppg.Config{}, experiment.Config{}, err
		}
		v.Set("name2coef", coefs)
	}

	cfg, err := ppg.LoadConfig(v)
	if err != nil {
		return ppg.Config{}, experiment.Config{}, err
	}
	var e experiment.Config
	if err := v.Unmarshal(&e); err != nil {
		return ppg.Config{}, experiment.Config{}, fmt.Errorf("%w: %v",
			ppg.ErrConfiguration, err)
	}
	return cfg, e, nil
}

func train(ctx context.Context, v *viper.Viper, l launch,
	flags *pflag.FlagSet) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	logger, err := newLogger(l.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, e, err := loadConfigs(v, l, flags)
	if err != nil {
		return err
	}
	if e.Run == "" {
		e.Run = experiment.NewRunID()
	}
	logger.Info("training", zap.String("env", cfg.Env),
		zap.String("arch", cfg.Arch), zap.String("run", e.Run),
		zap.Int("interacts_total", cfg.InteractsTotal))

	groupOpts := []dist.Option{dist.WithTimeout(l.timeout),
		dist.WithLogger(logger)}

	switch {
	case l.procs > 1 && l.worldSize > 1:
		return fmt.Errorf("%w: --procs and --world-size are exclusive",
			ppg.ErrConfiguration)

	case l.procs > 1:
		comms, err := dist.NewLocal(l.procs, groupOpts...)
		if err != nil {
			return err
		}
		g, ctx := errgroup.WithContext(ctx)
		for _, c := range comms {
			c := c
			g.Go(func() error {
				defer c.Close()
				return runRank(ctx, c, cfg, e, l, logger)
			})
		}
		return g.Wait()

	case l.worldSize > 1 && l.rank == 0:
		coord, err := dist.Listen(ctx, l.coordinator, l.worldSize,
			groupOpts...)
		if err != nil {
			return err
		}
		comm, err := coord.Accept(ctx)
		if err != nil {
			coord.Close()
			return err
		}
		defer comm.Close()
		return runRank(ctx, comm, cfg, e, l, logger)

	case l.worldSize > 1:
		comm, err := dist.Dial(ctx, l.coordinator, l.rank, l.worldSize,
			groupOpts...)
		if err != nil {
			return err
		}
		defer comm.Close()
		return runRank(ctx, comm, cfg, e, l, logger)

	default:
		comms, err := dist.NewLocal(1, groupOpts...)
		if err != nil {
			return err
		}
		defer comms[0].Close()
		return runRank(ctx, comms[0], cfg, e, l, logger)
	}
}

// runRank trains as one rank of comm
func runRank(ctx context.Context, comm dist.Comm, cfg ppg.Config,
	e experiment.Config, l launch, logger *zap.Logger) error {
	logger = logger.With(zap.Int("rank", comm.Rank()))
	if comm.Rank() != 0 {
		logger = logger.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))
	}

	opts := []experiment.Option{experiment.WithLogger(logger)}
	if l.progress {
		opts = append(opts, experiment.WithProgress(os.Stderr))
	}
	exp, err := experiment.New(e, cfg, comm, opts...)
	if err != nil {
		return fmt.Errorf("rank %d: %w", comm.Rank(), err)
	}
	defer exp.Close()

	start := time.Now()
	if err := exp.Run(ctx); err != nil {
		return fmt.Errorf("rank %d: %w", comm.Rank(), err)
	}
	if err := exp.Save(); err != nil {
		return fmt.Errorf("rank %d: %w", comm.Rank(), err)
	}
	logger.Info("training finished", zap.Duration("elapsed",
		time.Since(start)))
	return nil
}

// parseCoefs parses the values of the name2coef flag
func parseCoefs(raw map[string]string) (map[string]float64, error) {
	coefs := make(map[string]float64, len(raw))
	for name, value := range raw {
		coef, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: name2coef: %v: %v",
				ppg.ErrConfiguration, name, err)
		}
		coefs[name] = coef
	}
	return coefs, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}
