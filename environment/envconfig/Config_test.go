package envconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	env "github.com/samuelfneumann/phasic/environment"
)

func TestMake(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			vec, err := Make(name, 3, Options{NumLevels: 5, Seed: 11})
			require.NoError(t, err)
			assert.Equal(t, 3, vec.NumEnvs())

			obs, err := vec.Reset()
			require.NoError(t, err)
			assert.Len(t, obs, 3*vec.ObservationSize())

			actions := make([]int, vec.NumEnvs())
			for i := 0; i < 10; i++ {
				obs, rewards, dones, infos, err := vec.Step(actions)
				require.NoError(t, err)
				assert.Len(t, obs, 3*vec.ObservationSize())
				assert.Len(t, rewards, 3)
				assert.Len(t, dones, 3)
				assert.Len(t, infos, 3)
			}
		})
	}
}

func TestMakeIsCaseInsensitive(t *testing.T) {
	vec, err := Make("CartPole", 1, Options{DistributionMode: env.Hard})
	require.NoError(t, err)
	assert.Equal(t, 4, vec.ObservationSize())
	assert.Equal(t, 3, vec.NumActions())
}

func TestMakeErrors(t *testing.T) {
	_, err := Make("procgen", 1, Options{})
	assert.Error(t, err)

	_, err = Make("cartpole", 0, Options{})
	assert.Error(t, err)

	_, err = Make("cartpole", 1, Options{DistributionMode: "extreme"})
	assert.Error(t, err)
}

func TestEpisodeStepsOverride(t *testing.T) {
	vec, err := Make("constant", 1, Options{EpisodeSteps: 2})
	require.NoError(t, err)
	_, err = vec.Reset()
	require.NoError(t, err)

	_, _, dones, _, err := vec.Step([]int{0})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, dones)
	_, _, dones, infos, err := vec.Step([]int{0})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, dones)
	assert.Equal(t, 2.0, infos[0].EpisodeReturn)
}
