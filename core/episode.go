package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// TerminalReason records how an episode ended.
type TerminalReason int

const (
	// TerminalDone is the natural episode end reported by the environment.
	TerminalDone TerminalReason = iota
	// TerminalTruncated means the max-step guard fired before a natural end.
	TerminalTruncated
	// TerminalFailed means an adapter error or timeout cut the episode short.
	TerminalFailed
)

func (t TerminalReason) String() string {
	switch t {
	case TerminalDone:
		return "natural_end"
	case TerminalTruncated:
		return "truncated"
	case TerminalFailed:
		return "failed"
	}
	return "unknown"
}

// EpisodeResult is the value produced once per episode. Immutable once
// produced; the run controller aggregates it and forwards it to the
// metrics sink.
type EpisodeResult struct {
	Episode     int
	TotalReward float64
	Length      int
	Terminal    TerminalReason
	Seed        uint64
	Duration    time.Duration

	// Err is set when Terminal is TerminalFailed.
	Err error
}

// episodeRunner executes a single episode. It is stateless across episodes;
// the run controller constructs the loop parameters once and the runner is
// conceptually re-entered at READY per episode.
type episodeRunner struct {
	env   Environment
	agent Agent

	train      bool
	trainEvery int
	maxSteps   int
	timeout    time.Duration

	recorder *FrameRecorder
	sink     MetricsSink
}

// run plays one episode to a terminal state. Adapter errors and panics are
// converted into a TerminalFailed result rather than propagating, so one bad
// episode cannot corrupt the rest of the run.
//
// The timeout is carried by a per-episode context that play checks at every
// tick. run returns only once play has exited, so a timed-out episode can
// never overlap the next one on the shared environment and agent.
func (r *episodeRunner) run(episode int, seed uint64) *EpisodeResult {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	resCh := make(chan *EpisodeResult, 1)
	go r.play(ctx, episode, seed, resCh)
	return <-resCh
}

func (r *episodeRunner) play(ctx context.Context, episode int, seed uint64, resCh chan<- *EpisodeResult) {
	start := time.Now()
	res := &EpisodeResult{Episode: episode, Seed: seed, Terminal: TerminalTruncated}
	defer func() {
		if p := recover(); p != nil {
			res.Terminal = TerminalFailed
			res.Err = errors.Errorf("episode %d panicked: %v", episode, p)
		}
		res.Duration = time.Since(start)
		resCh <- res
	}()

	obs, err := r.env.Reset(seed)
	if err != nil {
		res.Terminal = TerminalFailed
		res.Err = errors.Wrap(err, "reset")
		return
	}

	for step := 0; step < r.maxSteps; step++ {
		select {
		case <-ctx.Done():
			res.Terminal = TerminalFailed
			res.Err = errors.Wrapf(ctx.Err(), "episode %d exceeded %s", episode, r.timeout)
			return
		default:
		}

		action, err := r.agent.Act(obs, r.train)
		if err != nil {
			res.Terminal = TerminalFailed
			res.Err = errors.Wrapf(err, "act at step %d", step)
			return
		}
		nextObs, reward, done, _, err := r.env.Step(action)
		if err != nil {
			res.Terminal = TerminalFailed
			res.Err = errors.Wrapf(err, "step %d", step)
			return
		}
		res.TotalReward += reward
		res.Length++

		if r.train {
			r.agent.Observe(Transition{
				Obs:     obs,
				Action:  action,
				Reward:  reward,
				NextObs: nextObs,
				Done:    done,
			})
			if r.trainEvery > 0 && res.Length%r.trainEvery == 0 {
				metrics, err := r.agent.TrainStep()
				if err != nil {
					res.Terminal = TerminalFailed
					res.Err = errors.Wrapf(err, "train step at %d", step)
					return
				}
				if metrics != nil && r.sink != nil {
					r.sink.RecordTraining(episode, step, metrics)
				}
			}
		}

		if r.recorder != nil {
			if frame := r.env.Render(); frame != nil {
				r.recorder.Push(frame)
			}
		}

		obs = nextObs
		if done {
			res.Terminal = TerminalDone
			return
		}
	}
	// Loop ran out before the environment reported done: the mandatory
	// truncation guard fired.
	res.Terminal = TerminalTruncated
}
