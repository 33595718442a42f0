package agents

import (
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/roadrl/harness/config"
	"github.com/roadrl/harness/core"
)

// QLearningAgent is a tabular Q-learner over discretized observation keys.
//
// With explore enabled it selects actions epsilon-greedily, or by Boltzmann
// sampling over the action values when a temperature is configured. With
// explore disabled it always plays the greedy action, which keeps
// evaluation deterministic for a fixed table.
type QLearningAgent struct {
	space core.ActionSpace
	qt    *QTable

	alpha       float64
	gamma       float64
	epsilon     float64
	temperature float64

	rand *erand.Rand
	src  erand.Source

	pending []core.Transition
}

var _ core.Agent = &QLearningAgent{}

// NewQLearningAgent builds the agent from its spec document. Learning
// parameters are validated here, not in the loader: gamma and epsilon must
// lie in [0,1], alpha in (0,1].
func NewQLearningAgent(spec *config.Spec, space core.ActionSpace) (*QLearningAgent, error) {
	alpha := spec.Float("alpha", 0.1)
	if alpha <= 0 || alpha > 1 {
		return nil, config.InvalidParam("alpha", "must be in (0,1], got %v", alpha)
	}
	gamma := spec.Float("gamma", 0.95)
	if gamma < 0 || gamma > 1 {
		return nil, config.InvalidParam("gamma", "must be in [0,1], got %v", gamma)
	}
	epsilon := spec.Float("epsilon", 0.1)
	if epsilon < 0 || epsilon > 1 {
		return nil, config.InvalidParam("epsilon", "must be in [0,1], got %v", epsilon)
	}
	temperature := spec.Float("temperature", 0)
	if temperature < 0 {
		return nil, config.InvalidParam("temperature", "must be non-negative, got %v", temperature)
	}

	seedInt := spec.Int("seed", 0)
	if seedInt < 0 {
		return nil, config.InvalidParam("seed", "must be non-negative, got %d", seedInt)
	}
	seed := uint64(seedInt)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := erand.NewSource(seed)
	return &QLearningAgent{
		space:       space,
		qt:          NewQTable(space.N),
		alpha:       alpha,
		gamma:       gamma,
		epsilon:     epsilon,
		temperature: temperature,
		rand:        erand.New(src),
		src:         src,
	}, nil
}

func (q *QLearningAgent) Name() string { return "qlearning" }

func (q *QLearningAgent) Act(obs core.Observation, explore bool) (core.Action, error) {
	if !explore {
		a, _ := q.qt.Max(obs.Key())
		return core.Action(a), nil
	}
	if q.temperature > 0 {
		return q.sampleBoltzmann(obs.Key())
	}
	if q.rand.Float64() < q.epsilon {
		return core.Action(q.rand.Intn(q.space.N)), nil
	}
	a, _ := q.qt.Max(obs.Key())
	return core.Action(a), nil
}

// sampleBoltzmann draws an action with probability proportional to
// exp(Q(s,a)/temperature), shifted by the largest value for stability.
func (q *QLearningAgent) sampleBoltzmann(state string) (core.Action, error) {
	vals := q.qt.Values(state)
	largest := vals[0]
	for _, v := range vals {
		if v > largest {
			largest = v
		}
	}
	sum := float64(0)
	weights := make([]float64, len(vals))
	for i, v := range vals {
		weights[i] = math.Exp((v - largest) / q.temperature)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	i, ok := sampleuv.NewWeighted(weights, q.src).Take()
	if !ok {
		return 0, errors.New("boltzmann sampling produced no action")
	}
	return core.Action(i), nil
}

func (q *QLearningAgent) Observe(t core.Transition) {
	q.pending = append(q.pending, t)
}

// TrainStep applies the Q-learning update to every observed transition
// since the previous train step.
func (q *QLearningAgent) TrainStep() (core.Metrics, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	var tdSum float64
	for _, t := range q.pending {
		state := t.Obs.Key()
		cur := q.qt.Get(state, int(t.Action))
		target := t.Reward
		if !t.Done {
			_, next := q.qt.Max(t.NextObs.Key())
			target += q.gamma * next
		}
		q.qt.Set(state, int(t.Action), (1-q.alpha)*cur+q.alpha*target)
		tdSum += math.Abs(target - cur)
	}
	metrics := core.Metrics{
		"td_error_mean": tdSum / float64(len(q.pending)),
		"updates":       float64(len(q.pending)),
		"states":        float64(q.qt.Size()),
	}
	q.pending = q.pending[:0]
	return metrics, nil
}

func (q *QLearningAgent) Save(w io.Writer) error {
	return q.qt.Encode(w)
}

// Load replaces the value table. A shape mismatch is fatal: playing with
// silently mismatched values corrupts results.
func (q *QLearningAgent) Load(r io.Reader) error {
	if err := q.qt.Decode(r); err != nil {
		return errors.Wrap(core.ErrCheckpointIncompatible, err.Error())
	}
	return nil
}
