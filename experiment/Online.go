package experiment

import (
	"context"
	"fmt"

	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/experiment/checkpointer"
	"github.com/samuelfneumann/phasic/experiment/tracker"
	"github.com/samuelfneumann/phasic/model"
	"github.com/samuelfneumann/phasic/ppg"
)

// Online is an Experiment that trains a PPG agent online on a
// vectorized environment
type Online struct {
	trainer       *ppg.Trainer
	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
}

// NewOnline creates and returns a new online experiment training on
// env as one rank of comm. The trackers are given the statistics of
// every iteration and the checkpointers are offered the training state
// after every auxiliary phase. Any ppg.WithHooks option in opts is
// replaced by the experiment's own hooks.
func NewOnline(cfg ppg.Config, env environment.VecEnv, comm dist.Comm,
	t []tracker.Tracker, c []checkpointer.Checkpointer,
	opts ...ppg.Option) (*Online, error) {
	o := &Online{trackers: t, checkpointers: c}

	hooks := ppg.Hooks{
		AfterIteration: o.track,
		AfterRotation:  o.checkpoint,
	}
	opts = append(append([]ppg.Option(nil), opts...), ppg.WithHooks(hooks))

	trainer, err := ppg.New(cfg, env, comm, opts...)
	if err != nil {
		return nil, fmt.Errorf("newOnline: %w", err)
	}
	o.trainer = trainer
	return o, nil
}

// Register registers a Tracker with the experiment so that data
// generated during the experiment can be tracked and saved
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// Run trains until the interaction budget is spent
func (o *Online) Run(ctx context.Context) error {
	return o.trainer.Run(ctx)
}

// Model returns the model being trained
func (o *Online) Model() *model.PhasicValueModel {
	return o.trainer.Model()
}

// Trainer returns the underlying Trainer
func (o *Online) Trainer() *ppg.Trainer {
	return o.trainer
}

// Save saves all the data cached by the Trackers to disk
func (o *Online) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	return nil
}

// Close releases the resources of the Trainer
func (o *Online) Close() error {
	return o.trainer.Close()
}

// track sends the statistics of an iteration to every Tracker
func (o *Online) track(_ context.Context, s ppg.Stats) error {
	for _, t := range o.trackers {
		if err := t.Track(s); err != nil {
			return err
		}
	}
	return nil
}

// checkpoint offers the training state to every Checkpointer
func (o *Online) checkpoint(_ context.Context, c ppg.Checkpoint) error {
	for _, ch := range o.checkpointers {
		if err := ch.Checkpoint(c); err != nil {
			return err
		}
	}
	return nil
}
