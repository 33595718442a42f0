package core

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Mode selects training or evaluation semantics for a run.
type Mode int

const (
	ModeTest Mode = iota
	ModeTrain
)

func (m Mode) String() string {
	if m == ModeTrain {
		return "train"
	}
	return "test"
}

// RunConfig is the immutable description of one run, created once at run
// start from the resolved configuration documents.
type RunConfig struct {
	Env   Environment
	Agent Agent
	Mode  Mode

	Episodes int
	Display  bool

	// RecoverPath names an explicit checkpoint to load before the first
	// episode. RecoverLatest instead searches prior run directories for the
	// most recent checkpoint of this environment/agent pair.
	RecoverPath   string
	RecoverLatest bool

	// MaxSteps is the mandatory truncation guard per episode.
	MaxSteps int
	// CheckpointInterval is in episodes; zero disables interval checkpoints.
	CheckpointInterval int
	// TrainEvery invokes a train step every N ticks. Zero defaults to 1.
	TrainEvery int
	// FailFast aborts the run on the first failed episode instead of
	// skipping to the next one.
	FailFast bool
	// EpisodeTimeout bounds one episode's wall-clock time. Zero means
	// unbounded; a stalled external step call is then a liveness risk the
	// caller accepts.
	EpisodeTimeout time.Duration

	OutputRoot string
	// Seed is the base episode seed; episode i uses Seed+i. Zero draws a
	// base seed from the clock.
	Seed        uint64
	Fingerprint string

	// FrameCapacity bounds the render hand-off queue.
	FrameCapacity int

	// Sink overrides the default metrics stream in the run directory.
	Sink MetricsSink
	// Out receives progress lines.
	Out io.Writer
}

// RunState is the mutable run-scoped bookkeeping, owned exclusively by the
// run controller and snapshotted into checkpoints.
type RunState struct {
	RunID       string  `json:"run_id"`
	Dir         string  `json:"dir"`
	Episode     int     `json:"episode"`
	TotalSteps  int     `json:"total_steps"`
	BestReward  float64 `json:"best_reward"`
	Fingerprint string  `json:"config_fingerprint"`
}

// RunSummary aggregates the run's episode results.
type RunSummary struct {
	RunID      string
	Dir        string
	Results    []*EpisodeResult
	Completed  int
	Truncated  int
	Failed     int
	TotalSteps int
	BestReward float64
	MeanReward float64
	// Interrupted is set when the run stopped at an episode boundary due to
	// cancellation rather than finishing the configured episode count.
	Interrupted     bool
	FinalCheckpoint string
}

// Runner owns the overall run: directory layout, recovery, the episode loop,
// checkpoint cadence, and metric emission.
type Runner struct {
	cfg  *RunConfig
	ckpt *CheckpointManager
}

func NewRunner(cfg *RunConfig) *Runner {
	return &Runner{cfg: cfg, ckpt: &CheckpointManager{}}
}

func (r *Runner) validate() error {
	if r.cfg.Env == nil || r.cfg.Agent == nil {
		return errors.New("run config needs both an environment and an agent")
	}
	if r.cfg.Episodes <= 0 {
		return errors.New("episode count must be positive")
	}
	if r.cfg.MaxSteps <= 0 {
		return errors.New("max steps per episode must be positive")
	}
	return nil
}

// Run executes the configured number of episodes and returns the aggregated
// summary. Cancellation is cooperative: the stop request is observed at
// episode boundaries, so at most one episode's partial progress is lost.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	cfg := r.cfg
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}

	state, err := r.prepareRunDir()
	if err != nil {
		return nil, err
	}
	if err := r.recoverAgent(state); err != nil {
		return nil, err
	}

	sink := cfg.Sink
	if sink == nil {
		s, err := NewJSONLSink(filepath.Join(state.Dir, "metrics.jsonl"))
		if err != nil {
			return nil, err
		}
		defer s.Close()
		sink = s
	}

	var recorder *FrameRecorder
	if cfg.Display {
		frameSink, err := NewRawFrameSink(filepath.Join(state.Dir, "frames.raw"))
		if err != nil {
			return nil, err
		}
		recorder = NewFrameRecorder(frameSink, cfg.FrameCapacity)
		defer recorder.Close()
	}

	trainEvery := cfg.TrainEvery
	if trainEvery <= 0 {
		trainEvery = 1
	}
	seedBase := cfg.Seed
	if seedBase == 0 {
		seedBase = uint64(time.Now().UnixNano())
	}

	episode := &episodeRunner{
		env:        cfg.Env,
		agent:      cfg.Agent,
		train:      cfg.Mode == ModeTrain,
		trainEvery: trainEvery,
		maxSteps:   cfg.MaxSteps,
		timeout:    cfg.EpisodeTimeout,
		recorder:   recorder,
		sink:       sink,
	}

	summary := &RunSummary{
		RunID:      state.RunID,
		Dir:        state.Dir,
		BestReward: math.Inf(-1),
	}
	var runErr error

EpisodeLoop:
	for ep := 0; ep < cfg.Episodes; ep++ {
		select {
		case <-ctx.Done():
			summary.Interrupted = true
			break EpisodeLoop
		default:
		}

		res := episode.run(ep, seedBase+uint64(ep))
		state.Episode = ep + 1
		state.TotalSteps += res.Length
		if res.TotalReward > state.BestReward {
			state.BestReward = res.TotalReward
		}
		summary.Results = append(summary.Results, res)
		sink.RecordEpisode(res)

		fmt.Fprintf(out, "Run %s, Episode %d/%d, Reward %.2f, Steps %d, %s\n",
			state.RunID, ep+1, cfg.Episodes, res.TotalReward, res.Length, res.Terminal)

		// The interval checkpoint runs before the failure branch: the agent's
		// state advanced during a partial episode too.
		if cfg.Mode == ModeTrain && cfg.CheckpointInterval > 0 && (ep+1)%cfg.CheckpointInterval == 0 {
			label := strconv.Itoa(ep + 1)
			if _, err := r.ckpt.Save(state.Dir, state, cfg.Env, cfg.Agent, label); err != nil {
				// A missed interval checkpoint does not abort the run; the
				// next interval bounds the loss.
				fmt.Fprintf(out, "Run %s, checkpoint %s failed: %v\n", state.RunID, label, err)
			}
		}
		if res.Terminal == TerminalFailed && cfg.FailFast {
			runErr = errors.Wrapf(ErrEpisodeFailed, "episode %d: %v", ep, res.Err)
			break EpisodeLoop
		}
	}

	if cfg.Mode == ModeTrain {
		// Best effort, including on interruption and fail-fast abort.
		h, err := r.ckpt.Save(state.Dir, state, cfg.Env, cfg.Agent, FinalLabel)
		if err != nil {
			fmt.Fprintf(out, "Run %s, final checkpoint failed: %v\n", state.RunID, err)
		} else {
			summary.FinalCheckpoint = h.Path
		}
	}

	var rewardSum float64
	for _, res := range summary.Results {
		switch res.Terminal {
		case TerminalDone:
			summary.Completed++
		case TerminalTruncated:
			summary.Truncated++
		case TerminalFailed:
			summary.Failed++
		}
		rewardSum += res.TotalReward
		if res.TotalReward > summary.BestReward {
			summary.BestReward = res.TotalReward
		}
	}
	summary.TotalSteps = state.TotalSteps
	if n := len(summary.Results); n > 0 {
		summary.MeanReward = rewardSum / float64(n)
	} else {
		summary.BestReward = 0
	}
	return summary, runErr
}

// prepareRunDir derives the unique run directory and creates it before any
// episode executes.
func (r *Runner) prepareRunDir() (*RunState, error) {
	cfg := r.cfg
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	runID := fmt.Sprintf("run_%s_%s", time.Now().Format("20060102_150405"), suffix)
	parent := filepath.Join(cfg.OutputRoot, cfg.Env.Name(), cfg.Agent.Name())
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, errors.Wrap(err, "creating output root")
	}
	dir := filepath.Join(parent, runID)
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrap(ErrOutputDirConflict, dir)
		}
		return nil, errors.Wrap(err, "creating run directory")
	}
	return &RunState{
		RunID:       runID,
		Dir:         dir,
		BestReward:  math.Inf(-1),
		Fingerprint: cfg.Fingerprint,
	}, nil
}

// recoverAgent resolves the configured recovery reference and loads it into
// the agent before the first episode.
func (r *Runner) recoverAgent(state *RunState) error {
	cfg := r.cfg
	var handle *CheckpointHandle
	switch {
	case cfg.RecoverPath != "":
		h, err := r.ckpt.Resolve(cfg.RecoverPath)
		if err != nil {
			if errors.Is(err, ErrCheckpointNotFound) {
				return errors.Wrap(ErrRecoveryTargetNotFound, cfg.RecoverPath)
			}
			return err
		}
		handle = h
	case cfg.RecoverLatest:
		h, err := r.latestAcrossRuns(filepath.Dir(state.Dir), state.Dir)
		if err != nil {
			return err
		}
		handle = h
	default:
		return nil
	}
	if err := r.ckpt.Restore(handle, cfg.Env, cfg.Agent); err != nil {
		return err
	}
	return nil
}

// latestAcrossRuns scans sibling run directories for the newest checkpoint
// by embedded timestamp. The current (empty) run directory is skipped.
func (r *Runner) latestAcrossRuns(parent, exclude string) (*CheckpointHandle, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, errors.Wrap(ErrRecoveryTargetNotFound, parent)
	}
	var latest *CheckpointHandle
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run_") {
			continue
		}
		dir := filepath.Join(parent, e.Name())
		if dir == exclude {
			continue
		}
		h, err := r.ckpt.ResolveLatest(dir)
		if err != nil {
			continue
		}
		if latest == nil || h.Meta.Timestamp.After(latest.Meta.Timestamp) {
			latest = h
		}
	}
	if latest == nil {
		return nil, errors.Wrap(ErrRecoveryTargetNotFound, parent)
	}
	return latest, nil
}
