package core

import "errors"

var (
	// ErrInvalidTransition is returned by an environment when Step is called
	// after done without an intervening Reset.
	ErrInvalidTransition = errors.New("step after episode end without reset")

	// ErrCheckpointIncompatible is returned when a checkpoint's serialized
	// shape does not match the constructed agent. Fatal at recovery.
	ErrCheckpointIncompatible = errors.New("checkpoint incompatible with agent")

	// ErrCheckpointNotFound is returned when no checkpoint can be resolved.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrRecoveryTargetNotFound is returned when a recovery reference names
	// no usable checkpoint. Fatal before the first episode.
	ErrRecoveryTargetNotFound = errors.New("recovery target not found")

	// ErrOutputDirConflict is returned when the run's output directory
	// already exists.
	ErrOutputDirConflict = errors.New("output directory already exists")

	// ErrEpisodeFailed marks a run aborted by a failed episode under the
	// fail-fast option.
	ErrEpisodeFailed = errors.New("episode failed")
)
