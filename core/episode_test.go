package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeNaturalEnd(t *testing.T) {
	env := newFakeEnv()
	env.doneAfter = 3
	agent := newFakeAgent()
	r := &episodeRunner{env: env, agent: agent, maxSteps: 10}

	res := r.run(0, 42)
	assert.Equal(t, TerminalDone, res.Terminal)
	assert.Equal(t, 3, res.Length)
	assert.Equal(t, 3.0, res.TotalReward)
	assert.Equal(t, uint64(42), res.Seed)
}

func TestEpisodeTruncatedAtGuard(t *testing.T) {
	env := newFakeEnv() // never reports done
	agent := newFakeAgent()
	r := &episodeRunner{env: env, agent: agent, maxSteps: 5}

	res := r.run(0, 1)
	assert.Equal(t, TerminalTruncated, res.Terminal, "guard must record TRUNCATED, never DONE")
	assert.Equal(t, 5, res.Length)
}

func TestEpisodeTrainCadence(t *testing.T) {
	env := newFakeEnv()
	agent := newFakeAgent()
	sink := &countingSink{}
	r := &episodeRunner{env: env, agent: agent, train: true, trainEvery: 3, maxSteps: 10, sink: sink}

	res := r.run(0, 1)
	require.Equal(t, TerminalTruncated, res.Terminal)
	assert.Equal(t, 10, len(agent.observed), "every transition is observed in training mode")
	assert.Equal(t, 3, agent.trainCalls, "train step runs every third tick")
	assert.Equal(t, 3, sink.training)
}

func TestEpisodeTestModeDoesNotTrain(t *testing.T) {
	env := newFakeEnv()
	env.doneAfter = 4
	agent := newFakeAgent()
	r := &episodeRunner{env: env, agent: agent, train: false, trainEvery: 1, maxSteps: 10}

	res := r.run(0, 1)
	require.Equal(t, TerminalDone, res.Terminal)
	assert.Empty(t, agent.observed)
	assert.Zero(t, agent.trainCalls)
}

func TestEpisodeAdapterErrorBecomesFailed(t *testing.T) {
	env := newFakeEnv()
	env.failEpisode = 0
	env.failStep = 2
	agent := newFakeAgent()
	r := &episodeRunner{env: env, agent: agent, maxSteps: 10}

	res := r.run(0, 1)
	assert.Equal(t, TerminalFailed, res.Terminal)
	assert.Error(t, res.Err)
	assert.Equal(t, 2, res.Length)
}

func TestEpisodePanicBecomesFailed(t *testing.T) {
	env := newFakeEnv()
	agent := newFakeAgent()
	agent.panicAct = true
	r := &episodeRunner{env: env, agent: agent, maxSteps: 10}

	res := r.run(0, 1)
	assert.Equal(t, TerminalFailed, res.Terminal)
	assert.Error(t, res.Err)
}

func TestEpisodeTimeout(t *testing.T) {
	env := newFakeEnv()
	env.stepDelay = 20 * time.Millisecond
	agent := newFakeAgent()
	r := &episodeRunner{env: env, agent: agent, maxSteps: 1000, timeout: 30 * time.Millisecond}

	res := r.run(0, 1)
	assert.Equal(t, TerminalFailed, res.Terminal)
	assert.Error(t, res.Err)
}

func TestEpisodeRecordsFrames(t *testing.T) {
	sink := &memorySink{}
	rec := NewFrameRecorder(sink, 32)
	env := newFakeEnv()
	env.doneAfter = 5
	r := &episodeRunner{env: env, agent: newFakeAgent(), maxSteps: 10, recorder: rec}

	res := r.run(0, 1)
	require.Equal(t, TerminalDone, res.Terminal)
	require.NoError(t, rec.Close())
	assert.Len(t, sink.frames, 5)
}
