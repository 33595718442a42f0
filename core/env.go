package core

// Action is a discrete action index into the environment's action space.
type Action int

// ActionSpace describes the discrete actions an environment accepts.
type ActionSpace struct {
	N     int
	Names []string
}

// Name returns a readable label for an action, falling back to its index.
func (s ActionSpace) Name(a Action) string {
	if int(a) >= 0 && int(a) < len(s.Names) {
		return s.Names[a]
	}
	return "?"
}

// Contains reports whether a is a valid action in this space.
func (s ActionSpace) Contains(a Action) bool {
	return int(a) >= 0 && int(a) < s.N
}

// ObservationSpace describes the shape of the observations an environment emits.
type ObservationSpace struct {
	// Features per observed entity.
	Features []string
	// Number of entities included in one observation (ego first).
	Entities int
}

// Observation is the state visible to an agent at one tick.
//
// Key returns a stable identity for the observation, coarse enough for
// tabular methods to index on. Concrete environments expose richer data
// through their own observation types.
type Observation interface {
	Key() string
}

// StepInfo carries auxiliary diagnostics from a single environment step.
type StepInfo map[string]interface{}

// Frame is one rendered image of the environment.
type Frame struct {
	Width  int
	Height int
	// Grayscale pixels, row major, Width*Height bytes.
	Pixels []byte
}

// Environment is the capability contract the runner needs from a simulator.
//
// Step after the environment has reported done, without an intervening
// Reset, must fail with ErrInvalidTransition. Identical seed plus identical
// action sequence must reproduce identical trajectories.
type Environment interface {
	Name() string
	Reset(seed uint64) (Observation, error)
	Step(Action) (Observation, float64, bool, StepInfo, error)
	ActionSpace() ActionSpace
	ObservationSpace() ObservationSpace
	// Render returns the current frame, or nil if the environment does not
	// support rendering.
	Render() *Frame
}
