package core

import "io"

// Transition is one (state, action, reward, next state, done) tuple produced
// by a single environment step. It is handed to the agent in training mode
// and never persisted by the runner.
type Transition struct {
	Obs     Observation
	Action  Action
	Reward  float64
	NextObs Observation
	Done    bool
}

// Metrics is a batch of scalar training metrics keyed by name.
type Metrics map[string]float64

// Agent is the capability contract the runner needs from a policy or learner.
//
// Rule-based agents ignore explore, return a deterministic action, and are
// free to implement Observe and TrainStep as no-ops. Load must fail with
// ErrCheckpointIncompatible when the serialized state does not match the
// constructed agent's shape; loading mismatched state silently would corrupt
// results.
type Agent interface {
	Name() string
	Act(obs Observation, explore bool) (Action, error)
	Observe(t Transition)
	// TrainStep performs one learning update and reports its metrics.
	// A nil Metrics return means there was nothing to report.
	TrainStep() (Metrics, error)
	Save(w io.Writer) error
	Load(r io.Reader) error
}
