package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

// Flags is the recorded shape of the command line, written into the run
// directory so a run is reproducible from its artifacts.
type Flags struct {
	OutputRoot         string        `json:"output_root"`
	Episodes           int           `json:"episodes"`
	MaxSteps           int           `json:"max_steps"`
	CheckpointInterval int           `json:"checkpoint_interval"`
	TrainEvery         int           `json:"train_every"`
	FailFast           bool          `json:"fail_fast"`
	EpisodeTimeout     time.Duration `json:"episode_timeout"`
	Seed               uint64        `json:"seed"`
	Train              bool          `json:"train"`
	NoDisplay          bool          `json:"no_display"`
	Recover            string        `json:"recover,omitempty"`
	CruiseSpeed        float64       `json:"cruise_speed"`
}

var (
	flags = &Flags{}

	outputRoot         string
	episodes           int
	maxSteps           int
	checkpointInterval int
	trainEvery         int
	failFast           bool
	episodeTimeoutSec  int
	seed               uint64
	train              bool
	test               bool
	noDisplay          bool
	recoverRef         string
	cruiseSpeed        float64
)

func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&outputRoot, "output", "runs", "Root directory for run artifacts")
	cmd.PersistentFlags().IntVar(&episodes, "episodes", 100, "Number of episodes")
	cmd.PersistentFlags().IntVar(&maxSteps, "max-steps", 500, "Maximum steps per episode before truncation")
	cmd.PersistentFlags().IntVar(&checkpointInterval, "checkpoint-interval", 50, "Episodes between checkpoints, 0 disables")
	cmd.PersistentFlags().IntVar(&trainEvery, "train-every", 1, "Ticks between training updates")
	cmd.PersistentFlags().BoolVar(&failFast, "fail-fast", false, "Abort the run on the first failed episode")
	cmd.PersistentFlags().IntVar(&episodeTimeoutSec, "episode-timeout", 0, "Episode timeout in seconds, 0 means unbounded")
	cmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "Base episode seed, 0 draws from the clock")
	cmd.PersistentFlags().BoolVar(&train, "train", false, "Run in training mode")
	cmd.PersistentFlags().BoolVar(&test, "test", false, "Run in evaluation mode (the default)")
	cmd.PersistentFlags().BoolVar(&noDisplay, "no-display", false, "Disable rendering and frame recording")
	cmd.PersistentFlags().Float64Var(&cruiseSpeed, "cruise-speed", 30, "Rule-based driver cruise speed [m/s]")

	f := cmd.PersistentFlags()
	f.StringVar(&recoverRef, "recover", "", "Recover from a checkpoint path, or the latest prior checkpoint when given without a value")
	f.Lookup("recover").NoOptDefVal = "latest"
}

func UpdateFlags() {
	flags.OutputRoot = outputRoot
	flags.Episodes = episodes
	flags.MaxSteps = maxSteps
	flags.CheckpointInterval = checkpointInterval
	flags.TrainEvery = trainEvery
	flags.FailFast = failFast
	flags.EpisodeTimeout = time.Duration(episodeTimeoutSec) * time.Second
	flags.Seed = seed
	flags.Train = train
	flags.NoDisplay = noDisplay
	flags.Recover = recoverRef
	flags.CruiseSpeed = cruiseSpeed
}
