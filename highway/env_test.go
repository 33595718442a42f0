package highway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrl/harness/config"
	"github.com/roadrl/harness/core"
)

func newTestEnv(t *testing.T, params map[string]interface{}) *Env {
	t.Helper()
	env, err := FromSpec(config.New(params))
	require.NoError(t, err)
	return env
}

func TestFromSpecDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.Params()
	assert.Equal(t, 4, p.Lanes)
	assert.Equal(t, 20, p.Vehicles)
	assert.Equal(t, 1.0, p.Dt)
}

func TestFromSpecRejectsBadParams(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]interface{}
		key    string
	}{
		{"one lane", map[string]interface{}{"lanes": 1}, "lanes"},
		{"negative vehicles", map[string]interface{}{"vehicles": -2}, "vehicles"},
		{"zero dt", map[string]interface{}{"dt": 0.0}, "dt"},
		{"tight spacing", map[string]interface{}{"spawn_spacing": 2.0}, "spawn_spacing"},
		{"inverted speed band", map[string]interface{}{"reward_speed_min": 30.0, "reward_speed_max": 20.0}, "reward_speed_max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromSpec(config.New(tc.params))
			var invalid *config.InvalidParameterError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.key, invalid.Key)
		})
	}
}

func TestFromSpecIgnoresUnknownKeys(t *testing.T) {
	_, err := FromSpec(config.New(map[string]interface{}{"lanes": 3, "shiny_new_option": true}))
	assert.NoError(t, err)
}

func TestResetBeforeStepRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _, _, _, err := env.Step(ActionIdle)
	assert.Error(t, err)
}

func TestDeterministicTrajectories(t *testing.T) {
	actions := []core.Action{ActionIdle, ActionFaster, ActionLaneLeft, ActionIdle, ActionSlower, ActionLaneRight}

	run := func() ([]string, []float64) {
		env := newTestEnv(t, nil)
		obs, err := env.Reset(1234)
		require.NoError(t, err)
		keys := []string{obs.Key()}
		var rewards []float64
		for i := 0; i < 40; i++ {
			a := actions[i%len(actions)]
			next, reward, done, _, err := env.Step(a)
			require.NoError(t, err)
			keys = append(keys, next.Key())
			rewards = append(rewards, reward)
			if done {
				break
			}
		}
		return keys, rewards
	}

	keys1, rewards1 := run()
	keys2, rewards2 := run()
	assert.Equal(t, keys1, keys2, "identical seed and actions reproduce the trajectory")
	assert.Equal(t, rewards1, rewards2)
}

func TestDifferentSeedsDifferentTraffic(t *testing.T) {
	env := newTestEnv(t, nil)

	layout := func(seed uint64) []float64 {
		_, err := env.Reset(seed)
		require.NoError(t, err)
		xs := make([]float64, 0, len(env.traffic))
		for _, v := range env.traffic {
			xs = append(xs, v.x)
		}
		return xs
	}

	assert.NotEqual(t, layout(1), layout(2), "different seeds spawn different traffic")
	assert.Equal(t, layout(3), layout(3), "equal seeds spawn identical traffic")
}

func TestCrashEndsEpisode(t *testing.T) {
	env := newTestEnv(t, map[string]interface{}{"vehicles": 0, "sim_steps": 5})
	_, err := env.Reset(1)
	require.NoError(t, err)

	// Park a stopped car right ahead in the ego lane.
	env.traffic = []*vehicle{{lane: env.ego.lane, x: env.ego.x + 20, speed: 0, targetSpeed: 0}}

	var done bool
	var reward float64
	for i := 0; i < 10 && !done; i++ {
		var err error
		_, reward, done, _, err = env.Step(ActionIdle)
		require.NoError(t, err)
	}
	require.True(t, done, "driving into a stopped car must end the episode")
	assert.Negative(t, reward, "the collision penalty dominates the final reward")

	_, _, _, _, err = env.Step(ActionIdle)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	// Reset clears the terminal state.
	_, err = env.Reset(2)
	require.NoError(t, err)
	_, _, _, _, err = env.Step(ActionIdle)
	assert.NoError(t, err)
}

func TestLaneBounds(t *testing.T) {
	env := newTestEnv(t, map[string]interface{}{"vehicles": 0, "lanes": 2})
	obs, err := env.Reset(1)
	require.NoError(t, err)
	ego := obs.(*Obs)
	require.Equal(t, 1, ego.EgoLane)

	// Already in the rightmost lane: LANE_RIGHT is a no-op.
	next, _, _, _, err := env.Step(ActionLaneRight)
	require.NoError(t, err)
	assert.Equal(t, 1, next.(*Obs).EgoLane)

	next, _, _, _, err = env.Step(ActionLaneLeft)
	require.NoError(t, err)
	assert.Equal(t, 0, next.(*Obs).EgoLane)

	next, _, _, _, err = env.Step(ActionLaneLeft)
	require.NoError(t, err)
	assert.Equal(t, 0, next.(*Obs).EgoLane, "LANE_LEFT in the leftmost lane is a no-op")
}

func TestSpeedActions(t *testing.T) {
	env := newTestEnv(t, map[string]interface{}{"vehicles": 0, "ego_speed": 25.0})
	_, err := env.Reset(1)
	require.NoError(t, err)

	next, _, _, _, err := env.Step(ActionFaster)
	require.NoError(t, err)
	o := next.(*Obs)
	assert.Equal(t, 30.0, o.TargetSpeed)
	assert.Greater(t, o.EgoSpeed, 25.0, "the ego accelerates toward the raised target")

	for i := 0; i < 10; i++ {
		next, _, _, _, err = env.Step(ActionSlower)
		require.NoError(t, err)
	}
	o = next.(*Obs)
	assert.Equal(t, 0.0, o.TargetSpeed, "the commanded speed never goes negative")
}

func TestRewardPrefersSpeedAndRightLane(t *testing.T) {
	env := newTestEnv(t, map[string]interface{}{"vehicles": 0, "ego_speed": 30.0})
	_, err := env.Reset(1)
	require.NoError(t, err)
	_, fast, _, _, err := env.Step(ActionIdle)
	require.NoError(t, err)

	_, err = env.Reset(1)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, _, _, _, err = env.Step(ActionSlower)
		require.NoError(t, err)
	}
	_, slow, _, _, err := env.Step(ActionIdle)
	require.NoError(t, err)
	assert.Greater(t, fast, slow)

	// Rightmost lane scores above leftmost at equal speed.
	_, err = env.Reset(1)
	require.NoError(t, err)
	_, right, _, _, err := env.Step(ActionLaneRight)
	require.NoError(t, err)
	_, err = env.Reset(1)
	require.NoError(t, err)
	_, left, _, _, err := env.Step(ActionLaneLeft)
	require.NoError(t, err)
	assert.Greater(t, right, left)
}

func TestObservationNeighbours(t *testing.T) {
	env := newTestEnv(t, map[string]interface{}{"vehicles": 0, "lanes": 3})
	_, err := env.Reset(1)
	require.NoError(t, err)
	lane := env.ego.lane
	env.traffic = []*vehicle{
		{lane: lane, x: env.ego.x + 30, speed: 20, targetSpeed: 20},
		{lane: lane, x: env.ego.x - 15, speed: 22, targetSpeed: 22},
		{lane: lane - 1, x: env.ego.x + 50, speed: 25, targetSpeed: 25},
	}
	obs := env.observe()
	require.NotNil(t, obs.Same)
	require.NotNil(t, obs.Same.Lead)
	assert.InDelta(t, 30, obs.Same.Lead.Gap, 1e-9)
	require.NotNil(t, obs.Same.Rear)
	assert.InDelta(t, 15, obs.Same.Rear.Gap, 1e-9)
	require.NotNil(t, obs.Left)
	require.NotNil(t, obs.Left.Lead)
	assert.InDelta(t, 50, obs.Left.Lead.Gap, 1e-9)
	assert.Nil(t, obs.Left.Rear)
}

func TestRenderFrame(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Nil(t, env.Render(), "no frame before reset")

	_, err := env.Reset(1)
	require.NoError(t, err)
	frame := env.Render()
	require.NotNil(t, frame)
	assert.Equal(t, frame.Width*frame.Height, len(frame.Pixels))

	var lit int
	for _, px := range frame.Pixels {
		if px != 0 {
			lit++
		}
	}
	assert.Positive(t, lit, "the ego at least must be drawn")
}
