// Package checkpointer saves and restores the state of training runs
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/samuelfneumann/phasic/ppg"
)

// Checkpointer decides when to save the training state it is offered.
// Training state is offered after every auxiliary phase.
type Checkpointer interface {
	Checkpoint(c ppg.Checkpoint) error
}

// Save gob-encodes c into filename
func Save(filename string, c ppg.Checkpoint) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("save: could not encode checkpoint: %w", err)
	}
	return file.Close()
}

// Load decodes the checkpoint saved at filename
func Load(filename string) (*ppg.Checkpoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	defer file.Close()

	var c ppg.Checkpoint
	if err := gob.NewDecoder(file).Decode(&c); err != nil {
		return nil, fmt.Errorf("load: could not decode checkpoint: %w", err)
	}
	if c.Params == nil {
		return nil, fmt.Errorf("load: checkpoint %v holds no parameters",
			filename)
	}
	return &c, nil
}
