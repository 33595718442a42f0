package agents

import (
	"io"
	"math/rand"
	"time"

	"github.com/roadrl/harness/core"
)

// RandomAgent picks uniformly among the environment's actions. Useful as a
// baseline and for exercising the runner without learning state.
type RandomAgent struct {
	space core.ActionSpace
	rand  *rand.Rand
}

var _ core.Agent = &RandomAgent{}

func NewRandomAgent(space core.ActionSpace) *RandomAgent {
	return &RandomAgent{
		space: space,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *RandomAgent) Name() string { return "random" }

func (r *RandomAgent) Act(_ core.Observation, _ bool) (core.Action, error) {
	return core.Action(r.rand.Intn(r.space.N)), nil
}

func (r *RandomAgent) Observe(_ core.Transition) {}

func (r *RandomAgent) TrainStep() (core.Metrics, error) { return nil, nil }

func (r *RandomAgent) Save(_ io.Writer) error { return nil }

func (r *RandomAgent) Load(_ io.Reader) error { return nil }
