package agents

import (
	"github.com/roadrl/harness/config"
	"github.com/roadrl/harness/core"
)

// FromSpec constructs a learning agent from its spec document. The document
// selects the variant through its "type" entry; parameters are validated by
// the chosen constructor.
func FromSpec(spec *config.Spec, space core.ActionSpace) (core.Agent, error) {
	switch t := spec.String("type", "qlearning"); t {
	case "qlearning":
		return NewQLearningAgent(spec, space)
	case "random":
		return NewRandomAgent(space), nil
	default:
		return nil, config.InvalidParam("type", "unknown agent type %q", t)
	}
}
