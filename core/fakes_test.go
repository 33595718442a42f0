package core

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type fakeObs string

func (o fakeObs) Key() string { return string(o) }

// fakeEnv is a deterministic scripted environment: episodes end naturally
// after doneAfter steps (never, when zero), and it can be told to fail at a
// given step of a given episode.
type fakeEnv struct {
	name      string
	doneAfter int

	failEpisode int // episode index to fail in, -1 disables
	failStep    int

	stepDelay   time.Duration
	slowEpisode int // episode index the delay applies to, -1 means all

	resets int
	steps  int
	done   bool
	seeds  []uint64

	inCall   atomic.Int32
	overlaps atomic.Int32
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{name: "fake", failEpisode: -1, slowEpisode: -1}
}

func (e *fakeEnv) Name() string { return e.name }

// enter flags a second goroutine driving the environment at the same time.
func (e *fakeEnv) enter() {
	if e.inCall.Add(1) > 1 {
		e.overlaps.Add(1)
	}
}

func (e *fakeEnv) leave() { e.inCall.Add(-1) }

func (e *fakeEnv) Reset(seed uint64) (Observation, error) {
	e.enter()
	defer e.leave()
	e.resets++
	e.steps = 0
	e.done = false
	e.seeds = append(e.seeds, seed)
	return fakeObs("s0"), nil
}

func (e *fakeEnv) Step(a Action) (Observation, float64, bool, StepInfo, error) {
	e.enter()
	defer e.leave()
	if e.done {
		return nil, 0, false, nil, ErrInvalidTransition
	}
	if e.stepDelay > 0 && (e.slowEpisode < 0 || e.slowEpisode == e.resets-1) {
		time.Sleep(e.stepDelay)
	}
	if e.failEpisode == e.resets-1 && e.failStep == e.steps {
		return nil, 0, false, nil, fmt.Errorf("scripted failure")
	}
	e.steps++
	if e.doneAfter > 0 && e.steps >= e.doneAfter {
		e.done = true
	}
	obs := fakeObs(fmt.Sprintf("s%d", e.steps))
	return obs, 1.0, e.done, StepInfo{"step": e.steps}, nil
}

func (e *fakeEnv) ActionSpace() ActionSpace {
	return ActionSpace{N: 3, Names: []string{"a", "b", "c"}}
}

func (e *fakeEnv) ObservationSpace() ObservationSpace {
	return ObservationSpace{Features: []string{"id"}, Entities: 1}
}

func (e *fakeEnv) Render() *Frame {
	return &Frame{Width: 2, Height: 1, Pixels: []byte{0, 1}}
}

// fakeAgent counts interactions and carries a loadable byte blob as its
// serialized state.
type fakeAgent struct {
	name string

	acts       int
	observed   []Transition
	trainCalls int

	state    []byte
	loaded   []byte
	panicAct bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{name: "stub", state: []byte("stub-state")}
}

func (a *fakeAgent) Name() string { return a.name }

func (a *fakeAgent) Act(Observation, bool) (Action, error) {
	if a.panicAct {
		panic("scripted panic")
	}
	a.acts++
	return 0, nil
}

func (a *fakeAgent) Observe(t Transition) { a.observed = append(a.observed, t) }

func (a *fakeAgent) TrainStep() (Metrics, error) {
	a.trainCalls++
	return Metrics{"calls": float64(a.trainCalls)}, nil
}

func (a *fakeAgent) Save(w io.Writer) error {
	_, err := w.Write(a.state)
	return err
}

func (a *fakeAgent) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	a.loaded = data
	return nil
}

// countingSink tallies metric records.
type countingSink struct {
	mu       sync.Mutex
	episodes []*EpisodeResult
	training int
}

func (s *countingSink) RecordEpisode(res *EpisodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = append(s.episodes, res)
}

func (s *countingSink) RecordTraining(int, int, Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.training++
}

func (s *countingSink) Close() error { return nil }

// memorySink collects frames for recorder tests.
type memorySink struct {
	mu     sync.Mutex
	frames []*Frame
	delay  time.Duration
	closed bool
}

func (s *memorySink) WriteFrame(f *Frame) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
