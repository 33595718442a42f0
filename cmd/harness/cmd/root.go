package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roadrl/harness/config"
	"github.com/roadrl/harness/core"
)

// Exit codes distinguish usage errors from state errors from mid-run
// failures, for callers scripting around the harness.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitState   = 3
)

func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "harness",
		Short:         "Experiment harness for RL agents in a traffic simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			UpdateFlags()
		},
	}
	AddFlags(cmd)

	cmd.AddCommand(
		EvaluateCommand(),
	)

	return cmd
}

func Execute() int {
	if err := RootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	var invalid *config.InvalidParameterError
	switch {
	case errors.Is(err, config.ErrNotFound),
		errors.Is(err, config.ErrMalformed),
		errors.As(err, &invalid):
		return exitUsage
	case errors.Is(err, core.ErrRecoveryTargetNotFound),
		errors.Is(err, core.ErrCheckpointIncompatible),
		errors.Is(err, core.ErrOutputDirConflict):
		return exitState
	}
	return exitFailure
}
