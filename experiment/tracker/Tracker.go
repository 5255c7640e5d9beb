// Package tracker defines Trackers, which record the statistics of a
// training run and save them once training has finished
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/samuelfneumann/phasic/ppg"
)

// Interface Tracker keeps track of the statistics of every training
// iteration and saves them after the experiment has finished
type Tracker interface {
	Track(s ppg.Stats) error
	Save() error
}

// LoadData loads and returns the data saved by a Tracker that saves a
// gob-encoded []float64
func LoadData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadData: could not open data file: %w", err)
	}
	defer file.Close()

	var data []float64
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("loadData: could not decode data: %w", err)
	}
	return data, nil
}

// SaveData gob-encodes data into filename
func SaveData(filename string, data []float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("saveData: could not open save file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(data); err != nil {
		return fmt.Errorf("saveData: could not encode data: %w", err)
	}
	return file.Close()
}
