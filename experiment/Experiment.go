// Package experiment implements functionality for running a training
// experiment: a ppg.Trainer whose statistics are recorded by Trackers
// and whose state is saved by Checkpointers.
package experiment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/experiment/checkpointer"
	"github.com/samuelfneumann/phasic/experiment/tracker"
	"github.com/samuelfneumann/phasic/experiment/trackers"
	"github.com/samuelfneumann/phasic/ppg"
	"github.com/samuelfneumann/phasic/utils/progressbar"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Interface Experiment outlines structs that can run experiments.
// The Run() method trains until the interaction budget is spent,
// sending the statistics of every iteration to the registered
// Trackers. The Save() function then saves all tracked data to disk.
type Experiment interface {
	Run(ctx context.Context) error
	Register(t tracker.Tracker)
	Save() error
	Close() error
}

// Latest may be given as Config.Resume to resume from the checkpoint
// with the largest interaction count in Config.Dir
const Latest = "latest"

// Config configures the output of an experiment
type Config struct {
	// Dir is the directory that metrics, checkpoints, and the resolved
	// configuration are written to. Nothing is written if Dir is empty.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// CheckpointInterval is the minimum number of interactions between
	// checkpoints. Checkpoints are only taken after auxiliary phases.
	// Zero checkpoints after every auxiliary phase, and a negative
	// interval disables checkpointing.
	CheckpointInterval int `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`

	// Resume is the checkpoint file to resume from, or Latest
	Resume string `mapstructure:"resume" yaml:"resume,omitempty"`

	// Run identifies the files of this run. A random identifier is
	// used if Run is empty.
	Run string `mapstructure:"run" yaml:"run"`
}

// NewRunID returns a random run identifier
func NewRunID() string {
	return strings.Split(uuid.NewString(), "-")[0]
}

// Suffix returns the suffix of the files of a run with the given
// configuration
func Suffix(cfg ppg.Config) string {
	return fmt.Sprintf("-ppg-%v-nl%d-s%d", strings.ToLower(cfg.Env),
		cfg.NumLevels, cfg.Seed)
}

// resolved is the configuration written alongside a run's output
type resolved struct {
	Experiment Config     `yaml:"experiment"`
	PPG        ppg.Config `yaml:"ppg"`
}

// WriteConfig writes the configuration of a run as YAML
func WriteConfig(w io.Writer, e Config, cfg ppg.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(resolved{e, cfg}); err != nil {
		return fmt.Errorf("writeConfig: %w", err)
	}
	return enc.Close()
}

// ReadConfig reads a configuration written by WriteConfig
func ReadConfig(r io.Reader) (Config, ppg.Config, error) {
	res := resolved{PPG: ppg.DefaultConfig()}
	if err := yaml.NewDecoder(r).Decode(&res); err != nil {
		return Config{}, ppg.Config{}, fmt.Errorf("readConfig: %w", err)
	}
	return res.Experiment, res.PPG, nil
}

// Option configures the experiment created by New
type Option func(*options)

type options struct {
	logger   *zap.Logger
	progress io.Writer
}

// WithLogger sets the logger of the experiment and its Trainer
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithProgress displays a progress bar on w on rank 0
func WithProgress(w io.Writer) Option {
	return func(o *options) {
		o.progress = w
	}
}

// New returns an Online experiment training with cfg as one rank of
// comm, with output configured by e. Rank 0 writes the metrics CSV, the
// episode data, the checkpoints, and the resolved configuration. When
// resuming, only rank 0 reads the checkpoint, and the other ranks
// receive its parameters and counters once training starts.
func New(e Config, cfg ppg.Config, comm dist.Comm,
	opts ...Option) (*Online, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	if e.Run == "" {
		e.Run = NewRunID()
	}

	rank := comm.Rank()
	env, err := ppg.MakeEnv(cfg, rank)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	ppgOpts := []ppg.Option{ppg.WithLogger(o.logger)}
	if cfg.Eval {
		eval, err := ppg.MakeEvalEnv(cfg, rank)
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		ppgOpts = append(ppgOpts, ppg.WithEvalEnv(eval))
	}

	start := 0
	if e.Resume != "" && rank == 0 {
		ckpt, err := loadResume(e)
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		o.logger.Info("resuming", zap.Int("iteration", ckpt.Iteration),
			zap.Int("interactions", ckpt.Interactions))
		ppgOpts = append(ppgOpts, ppg.WithResume(ckpt))
		start = ckpt.Interactions
	}

	var ts []tracker.Tracker
	var cs []checkpointer.Checkpointer
	if o.progress != nil {
		bar := progressbar.NewManualProgressBar(o.progress, 50,
			cfg.InteractsTotal)
		ts = append(ts, tracker.Register(trackers.NewProgress(bar), rank, 0))
	}
	if e.Dir != "" {
		if ts, cs, err = fileOutputs(e, cfg, rank, start, o.logger, ts); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
	}

	exp, err := NewOnline(cfg, env, comm, ts, cs, ppgOpts...)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	return exp, nil
}

// fileOutputs creates the file Trackers and Checkpointers of a run
func fileOutputs(e Config, cfg ppg.Config, rank, start int,
	logger *zap.Logger, ts []tracker.Tracker) ([]tracker.Tracker,
	[]checkpointer.Checkpointer, error) {
	if rank != 0 {
		return ts, nil, nil
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, nil, err
	}
	name := func(kind, ext string) string {
		return filepath.Join(e.Dir, kind+Suffix(cfg)+"-"+e.Run+ext)
	}

	file, err := os.Create(name("config", ".yaml"))
	if err != nil {
		return nil, nil, err
	}
	if err := WriteConfig(file, e, cfg); err != nil {
		file.Close()
		return nil, nil, err
	}
	if err := file.Close(); err != nil {
		return nil, nil, err
	}

	metrics, err := trackers.NewCSVFile(name("metrics", ".csv"), logger)
	if err != nil {
		return nil, nil, err
	}
	ts = append(ts,
		metrics,
		trackers.NewReturn(name("return", ".bin"), false),
		trackers.NewEpisodeLength(name("episodelength", ".bin")),
	)
	if cfg.Eval {
		ts = append(ts, trackers.NewReturn(name("evalreturn", ".bin"), true))
	}

	var cs []checkpointer.Checkpointer
	if e.CheckpointInterval >= 0 {
		cs = append(cs, checkpointer.NewInterval(e.CheckpointInterval,
			start, checkpointer.Filename(e.Dir, e.Run)))
	}
	return ts, cs, nil
}

// loadResume loads the checkpoint named by e.Resume
func loadResume(e Config) (*ppg.Checkpoint, error) {
	path := e.Resume
	if path == Latest {
		var err error
		if path, err = checkpointer.Latest(e.Dir, ""); err != nil {
			return nil, err
		}
	}
	return checkpointer.Load(path)
}
