package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roadrl/harness/agents"
	"github.com/roadrl/harness/config"
	"github.com/roadrl/harness/core"
	"github.com/roadrl/harness/highway"
	"github.com/roadrl/harness/util"
)

func EvaluateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <env-config> [agent-config]",
		Short: "Run episodes of an agent in the configured environment",
		Long: "Runs the configured number of episodes in training or evaluation mode. " +
			"Without an agent config the ego is driven by the rule-based IDM driver.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt) // channel for interrupts from os

			doneCh := make(chan struct{}) // channel for done signal from application

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-sigCh:
				case <-doneCh:
				}
				cancel()
			}()
			defer close(doneCh)

			return runEvaluate(ctx, args)
		},
	}
	return cmd
}

func runEvaluate(ctx context.Context, args []string) error {
	if flags.Train && test {
		return config.InvalidParam("mode", "--train and --test are mutually exclusive")
	}
	envSpec, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if t := envSpec.String("type", "highway"); t != "highway" {
		return config.InvalidParam("type", "unknown environment type %q", t)
	}
	env, err := highway.FromSpec(envSpec)
	if err != nil {
		return err
	}

	var agent core.Agent
	fingerprint := map[string]interface{}{"env": envSpec.Values()}
	if len(args) == 2 {
		agentSpec, err := config.Load(args[1])
		if err != nil {
			return err
		}
		agent, err = agents.FromSpec(agentSpec, env.ActionSpace())
		if err != nil {
			return err
		}
		fingerprint["agent"] = agentSpec.Values()
	} else {
		// No agent document means the fixed rule-based policy.
		agent = highway.NewDriver(flags.CruiseSpeed)
	}

	mode := core.ModeTest
	if flags.Train {
		mode = core.ModeTrain
	}

	printer := util.NewTerminalPrinter(500 * time.Millisecond)
	progress := printer.NewOutput()
	printer.Start(ctx)
	defer printer.Stop()

	cfg := &core.RunConfig{
		Env:                env,
		Agent:              agent,
		Mode:               mode,
		Episodes:           flags.Episodes,
		Display:            !flags.NoDisplay,
		MaxSteps:           flags.MaxSteps,
		CheckpointInterval: flags.CheckpointInterval,
		TrainEvery:         flags.TrainEvery,
		FailFast:           flags.FailFast,
		EpisodeTimeout:     flags.EpisodeTimeout,
		OutputRoot:         flags.OutputRoot,
		Seed:               flags.Seed,
		Fingerprint:        util.JsonHash(fingerprint),
		Out:                progress,
	}
	switch flags.Recover {
	case "":
	case "latest":
		cfg.RecoverLatest = true
	default:
		cfg.RecoverPath = flags.Recover
	}

	summary, err := core.NewRunner(cfg).Run(ctx)
	if summary != nil {
		recordRunArtifacts(summary, os.Stderr)
		fmt.Printf("Run %s: %d episodes (%d done, %d truncated, %d failed), mean reward %.3f, best %.3f\n",
			summary.RunID, len(summary.Results), summary.Completed, summary.Truncated,
			summary.Failed, summary.MeanReward, summary.BestReward)
		if summary.Interrupted {
			fmt.Println("Run interrupted; final checkpoint attempted")
		}
	}
	return err
}

// recordRunArtifacts writes the flag record and the run summary into the run
// directory. Failures are reported, not fatal: the run itself already
// finished and its checkpoints and metrics are on disk.
func recordRunArtifacts(summary *core.RunSummary, errw io.Writer) {
	if err := util.SaveJson(filepath.Join(summary.Dir, "config.json"), flags); err != nil {
		fmt.Fprintf(errw, "recording config.json: %v\n", err)
	}
	if err := util.SaveJson(filepath.Join(summary.Dir, "summary.json"), summarize(summary)); err != nil {
		fmt.Fprintf(errw, "recording summary.json: %v\n", err)
	}
}

type runRecord struct {
	RunID           string  `json:"run_id"`
	Episodes        int     `json:"episodes"`
	Completed       int     `json:"completed"`
	Truncated       int     `json:"truncated"`
	Failed          int     `json:"failed"`
	TotalSteps      int     `json:"total_steps"`
	MeanReward      float64 `json:"mean_reward"`
	BestReward      float64 `json:"best_reward"`
	Interrupted     bool    `json:"interrupted"`
	FinalCheckpoint string  `json:"final_checkpoint,omitempty"`
}

func summarize(s *core.RunSummary) *runRecord {
	return &runRecord{
		RunID:           s.RunID,
		Episodes:        len(s.Results),
		Completed:       s.Completed,
		Truncated:       s.Truncated,
		Failed:          s.Failed,
		TotalSteps:      s.TotalSteps,
		MeanReward:      s.MeanReward,
		BestReward:      s.BestReward,
		Interrupted:     s.Interrupted,
		FinalCheckpoint: s.FinalCheckpoint,
	}
}
