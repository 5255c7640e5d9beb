package trackers

import (
	"bytes"
	"encoding/csv"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/phasic/experiment/tracker"
	"github.com/samuelfneumann/phasic/ppg"
	"github.com/samuelfneumann/phasic/utils/progressbar"
)

func testStats() []ppg.Stats {
	nan := math.NaN()
	return []ppg.Stats{
		{Iteration: 1, Interactions: 8, EpisodeReturn: 2, EpisodeLength: 4,
			Episodes: 2, EvalEpisodeReturn: nan},
		{Iteration: 2, Interactions: 16, EpisodeReturn: nan,
			EpisodeLength: nan, EvalEpisodeReturn: 7,
			Aux: &ppg.AuxStats{PolDistance: 0.1, VfTrue: 0.2, VfAux: 0.3}},
		{Iteration: 3, Interactions: 24, EpisodeReturn: 5, EpisodeLength: 6,
			Episodes: 1, EvalEpisodeReturn: 9},
	}
}

func TestReturnAndEpisodeLength(t *testing.T) {
	dir := t.TempDir()
	ret := NewReturn(filepath.Join(dir, "return.bin"), false)
	eval := NewReturn(filepath.Join(dir, "eval.bin"), true)
	length := NewEpisodeLength(filepath.Join(dir, "length.bin"))

	for _, s := range testStats() {
		for _, tr := range []tracker.Tracker{ret, eval, length} {
			require.NoError(t, tr.Track(s))
		}
	}
	for _, tr := range []tracker.Tracker{ret, eval, length} {
		require.NoError(t, tr.Save())
	}

	tests := map[string][]float64{
		"return.bin": {2, 5},
		"eval.bin":   {7, 9},
		"length.bin": {4, 6},
	}
	for file, want := range tests {
		data, err := tracker.LoadData(filepath.Join(dir, file))
		require.NoError(t, err)
		assert.Equal(t, want, data, file)
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	c := NewCSV(&buf, nil)
	for _, s := range testStats() {
		require.NoError(t, c.Track(s))
	}
	require.NoError(t, c.Save())

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	keys, _ := testStats()[0].Row()
	assert.Equal(t, keys, records[0])
	assert.Equal(t, "16", records[2][1])
	assert.Equal(t, "NaN", records[1][len(keys)-1])
	assert.Equal(t, "0.3", records[2][len(keys)-1])
}

func TestRegister(t *testing.T) {
	dir := t.TempDir()
	active := tracker.Register(NewReturn(filepath.Join(dir, "a.bin"), false),
		0, 0)
	inactive := tracker.Register(NewReturn(filepath.Join(dir, "b.bin"),
		false), 1, 0)

	for _, s := range testStats() {
		require.NoError(t, active.Track(s))
		require.NoError(t, inactive.Track(s))
	}
	require.NoError(t, active.Save())
	require.NoError(t, inactive.Save())

	_, err := tracker.LoadData(filepath.Join(dir, "a.bin"))
	assert.NoError(t, err)
	_, err = tracker.LoadData(filepath.Join(dir, "b.bin"))
	assert.Error(t, err)
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	bar := progressbar.NewManualProgressBar(&buf, 10, 32)
	p := NewProgress(bar)
	for _, s := range testStats() {
		require.NoError(t, p.Track(s))
	}
	assert.Equal(t, 0.75, bar.Fraction())
	require.NoError(t, p.Save())
	assert.Contains(t, buf.String(), "75.00%")
}
