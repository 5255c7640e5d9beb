package trackers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/samuelfneumann/phasic/experiment/tracker"
	"github.com/samuelfneumann/phasic/ppg"
	"go.uber.org/zap"
)

// CSV writes one row of every statistic per iteration, keyed by the
// interaction count. Rows are flushed as they are tracked so that a
// run that dies early still leaves its metrics behind.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
	logger *zap.Logger
	header bool
}

// NewCSV returns a CSV Tracker which writes to w. Save closes w if it
// is an io.Closer.
func NewCSV(w io.Writer, logger *zap.Logger) *CSV {
	c := &CSV{w: csv.NewWriter(w), logger: logger}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// NewCSVFile returns a CSV Tracker which writes to a new file at
// filename
func NewCSVFile(filename string, logger *zap.Logger) (tracker.Tracker,
	error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("newCSVFile: %w", err)
	}
	return NewCSV(file, logger), nil
}

// Track writes the statistics of an iteration as a row
func (c *CSV) Track(s ppg.Stats) error {
	keys, values := s.Row()
	if !c.header {
		if err := c.w.Write(keys); err != nil {
			return fmt.Errorf("track: %w", err)
		}
		c.header = true
	}

	record := make([]string, len(values))
	for i, v := range values {
		record[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	if err := c.w.Write(record); err != nil {
		return fmt.Errorf("track: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("track: %w", err)
	}

	c.logger.Debug("metrics written", zap.Int("iteration", s.Iteration),
		zap.Int("interactions", s.Interactions))
	return nil
}

// Save flushes any buffered rows and closes the underlying writer
func (c *CSV) Save() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
