package experiment

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/samuelfneumann/phasic/dist"
	"github.com/samuelfneumann/phasic/experiment/checkpointer"
	"github.com/samuelfneumann/phasic/experiment/tracker"
	"github.com/samuelfneumann/phasic/ppg"
)

func testConfig() ppg.Config {
	cfg := ppg.DefaultConfig()
	cfg.Env = "constant"
	cfg.NumLevels = 0
	cfg.NumEnvs = 2
	cfg.Horizon = 4
	cfg.NMinibatch = 1
	cfg.NPi = 2
	cfg.AuxMBSize = 2
	cfg.NAuxEpochs = 1
	cfg.Hidden = []int{8}
	cfg.InteractsTotal = 4 * cfg.NPi * cfg.Horizon * cfg.NumEnvs
	cfg.Eval = true
	cfg.Seed = 3
	return cfg
}

func singleComm(t *testing.T) dist.Comm {
	comms, err := dist.NewLocal(1)
	require.NoError(t, err)
	t.Cleanup(func() { comms[0].Close() })
	return comms[0]
}

func TestSuffix(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "-ppg-constant-nl0-s3", Suffix(cfg))
	assert.NotEmpty(t, NewRunID())
	assert.NotEqual(t, NewRunID(), NewRunID())
}

func TestWriteReadConfig(t *testing.T) {
	e := Config{Dir: "out", CheckpointInterval: 100, Run: "abc"}
	cfg := testConfig()
	cfg.Name2Coef = map[string]float64{ppg.VfTrue: 0.5}

	var buf bytes.Buffer
	require.NoError(t, WriteConfig(&buf, e, cfg))
	assert.Contains(t, buf.String(), "interacts_total:")

	readE, readCfg, err := ReadConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, e, readE)
	assert.Equal(t, cfg.Hidden, readCfg.Hidden)
	assert.Equal(t, cfg.InteractsTotal, readCfg.InteractsTotal)
	assert.Equal(t, cfg.Env, readCfg.Env)
	assert.Equal(t, 0.5, readCfg.Coef(ppg.VfTrue))
	assert.NoError(t, readCfg.Validate())
}

func TestExperimentWritesOutputsAndResumes(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	e := Config{Dir: dir, CheckpointInterval: 0, Run: "run"}

	var progress bytes.Buffer
	exp, err := New(e, cfg, singleComm(t), WithProgress(&progress))
	require.NoError(t, err)
	require.NoError(t, exp.Run(context.Background()))
	require.NoError(t, exp.Save())
	require.NoError(t, exp.Close())
	assert.Contains(t, progress.String(), "100.00%")

	prefix := filepath.Join(dir, "%v"+Suffix(cfg)+"-run")
	for _, kind := range []string{"config", "metrics"} {
		matches, err := filepath.Glob(strings.Replace(prefix, "%v", kind, 1) + ".*")
		require.NoError(t, err)
		assert.Len(t, matches, 1, kind)
	}

	metrics, err := os.ReadFile(strings.Replace(prefix, "%v", "metrics", 1) + ".csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(metrics)), "\n")
	assert.Len(t, lines, 1+4*cfg.NPi)
	assert.True(t, strings.HasPrefix(lines[0], "iteration,interactions"))

	// Every auxiliary phase leaves a checkpoint
	latest, err := checkpointer.Latest(dir, "run")
	require.NoError(t, err)
	ckpt, err := checkpointer.Load(latest)
	require.NoError(t, err)
	assert.Equal(t, cfg.InteractsTotal, ckpt.Interactions)
	assert.Equal(t, 4*cfg.NPi, ckpt.Iteration)
	assert.True(t, exp.Model().Params().Equal(ckpt.Params))

	// Resuming with a larger budget continues from the checkpoint
	cfg.InteractsTotal *= 2
	e.Resume = Latest
	e.Run = "resumed"
	resumed, err := New(e, cfg, singleComm(t))
	require.NoError(t, err)
	defer resumed.Close()
	assert.Equal(t, ckpt.Interactions, resumed.Trainer().Interactions())

	var count int
	resumed.Register(countTracker{&count})
	require.NoError(t, resumed.Run(context.Background()))
	assert.Equal(t, 4*cfg.NPi, count)
	assert.Equal(t, 8*cfg.NPi, resumed.Trainer().Iteration())
}

func TestExperimentResumeReadsCheckpointOnRankZero(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	e := Config{Dir: dir, CheckpointInterval: 0, Run: "run"}

	exp, err := New(e, cfg, singleComm(t))
	require.NoError(t, err)
	require.NoError(t, exp.Run(context.Background()))
	require.NoError(t, exp.Close())

	// Rank 1 runs on a host without the checkpoint directory
	const size = 2
	cfg.InteractsTotal *= 2
	comms, err := dist.NewLocal(size)
	require.NoError(t, err)
	exps := make([]*Online, size)
	for _, c := range comms {
		re := Config{Dir: dir, Resume: Latest, Run: "resumed",
			CheckpointInterval: -1}
		if c.Rank() != 0 {
			re.Dir = filepath.Join(t.TempDir(), "missing")
		}
		exps[c.Rank()], err = New(re, cfg, c)
		require.NoError(t, err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i, exp := range exps {
		exp, c := exp, comms[i]
		g.Go(func() error {
			defer c.Close()
			defer exp.Close()
			return exp.Run(ctx)
		})
	}
	require.NoError(t, g.Wait())

	for _, exp := range exps {
		assert.Equal(t, cfg.InteractsTotal, exp.Trainer().Interactions())
		assert.Equal(t, 4*cfg.NPi+2*cfg.NPi, exp.Trainer().Iteration())
	}
	assert.True(t, exps[0].Model().Params().Equal(exps[1].Model().Params()))
}

// countTracker counts the iterations it tracks
type countTracker struct {
	n *int
}

func (c countTracker) Track(ppg.Stats) error {
	*c.n++
	return nil
}

func (c countTracker) Save() error { return nil }

var _ tracker.Tracker = countTracker{}
