package checkpointer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samuelfneumann/phasic/ppg"
)

const (
	prefix    = "ckpt-"
	extension = ".gob"
)

// Filename returns a function which names the checkpoint files of a
// run in dir by their interaction count, as
// <dir>/ckpt-<run>-<interactions>.gob
func Filename(dir, run string) func(ppg.Checkpoint) string {
	return func(c ppg.Checkpoint) string {
		return filepath.Join(dir, fmt.Sprintf("%v%v-%d%v", prefix, run,
			c.Interactions, extension))
	}
}

// Latest returns the checkpoint file of the given run in dir with the
// largest interaction count. If run is empty, checkpoints of every
// run are considered.
func Latest(dir, run string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("latest: %w", err)
	}

	best, bestInteractions := "", -1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) ||
			!strings.HasSuffix(name, extension) {
			continue
		}
		stem := strings.TrimSuffix(strings.TrimPrefix(name, prefix), extension)
		sep := strings.LastIndex(stem, "-")
		if sep < 0 || (run != "" && stem[:sep] != run) {
			continue
		}
		interactions, err := strconv.Atoi(stem[sep+1:])
		if err != nil {
			continue
		}
		if interactions > bestInteractions {
			best, bestInteractions = filepath.Join(dir, name), interactions
		}
	}

	if best == "" {
		return "", fmt.Errorf("latest: no checkpoints in %v", dir)
	}
	return best, nil
}
