// Package highway is a lane-based kinematic traffic simulation behind the
// runner's environment contract. The ego vehicle follows discrete
// meta-actions while the surrounding traffic drives itself with the IDM
// longitudinal model and MOBIL lane changes.
package highway

import (
	"fmt"
	"math"

	erand "golang.org/x/exp/rand"

	"github.com/roadrl/harness/config"
	"github.com/roadrl/harness/core"
	"github.com/roadrl/harness/util"
)

// Ego meta-actions.
const (
	ActionLaneLeft core.Action = iota
	ActionIdle
	ActionLaneRight
	ActionFaster
	ActionSlower
)

var actionNames = []string{"LANE_LEFT", "IDLE", "LANE_RIGHT", "FASTER", "SLOWER"}

// speed adjustment per FASTER/SLOWER action [m/s]
const deltaSpeed = 5.0

// Params are the environment's resolved configuration.
type Params struct {
	Lanes    int     `json:"lanes"`
	Vehicles int     `json:"vehicles"`
	Dt       float64 `json:"dt"`
	// SimSteps is the number of kinematic substeps per decision tick, so a
	// fast vehicle cannot pass through a slow one between collision checks.
	SimSteps int `json:"sim_steps"`

	EgoSpeed     float64 `json:"ego_speed"`
	TrafficSpeed float64 `json:"traffic_speed"`
	SpawnSpacing float64 `json:"spawn_spacing"`

	RewardSpeedMin  float64 `json:"reward_speed_min"`
	RewardSpeedMax  float64 `json:"reward_speed_max"`
	HighSpeedReward float64 `json:"high_speed_reward"`
	RightLaneReward float64 `json:"right_lane_reward"`
	CollisionReward float64 `json:"collision_reward"`
}

// Env implements core.Environment.
type Env struct {
	params Params

	rng      *erand.Rand
	ego      *vehicle
	traffic  []*vehicle
	done     bool
	started  bool
	lastSeed uint64
}

var _ core.Environment = &Env{}

// FromSpec builds the environment from its configuration document. Unknown
// keys are ignored; out-of-range values for consumed keys fail fast.
func FromSpec(spec *config.Spec) (*Env, error) {
	p := Params{
		Lanes:           spec.Int("lanes", 4),
		Vehicles:        spec.Int("vehicles", 20),
		Dt:              spec.Float("dt", 1.0),
		SimSteps:        spec.Int("sim_steps", 5),
		EgoSpeed:        spec.Float("ego_speed", 25),
		TrafficSpeed:    spec.Float("traffic_speed", 20),
		SpawnSpacing:    spec.Float("spawn_spacing", 25),
		RewardSpeedMin:  spec.Float("reward_speed_min", 20),
		RewardSpeedMax:  spec.Float("reward_speed_max", 30),
		HighSpeedReward: spec.Float("high_speed_reward", 0.4),
		RightLaneReward: spec.Float("right_lane_reward", 0.1),
		CollisionReward: spec.Float("collision_reward", 1.0),
	}
	if p.Lanes < 2 {
		return nil, config.InvalidParam("lanes", "need at least 2 lanes, got %d", p.Lanes)
	}
	if p.Vehicles < 0 {
		return nil, config.InvalidParam("vehicles", "must be non-negative, got %d", p.Vehicles)
	}
	if p.Dt <= 0 {
		return nil, config.InvalidParam("dt", "must be positive, got %v", p.Dt)
	}
	if p.SimSteps < 1 {
		return nil, config.InvalidParam("sim_steps", "must be at least 1, got %d", p.SimSteps)
	}
	if p.SpawnSpacing <= vehicleLength {
		return nil, config.InvalidParam("spawn_spacing", "must exceed the vehicle length %v", vehicleLength)
	}
	if p.RewardSpeedMax <= p.RewardSpeedMin {
		return nil, config.InvalidParam("reward_speed_max", "must exceed reward_speed_min")
	}
	return &Env{params: p}, nil
}

func (e *Env) Name() string { return "highway" }

func (e *Env) Params() Params { return e.params }

// Fingerprint identifies the resolved parameter set.
func (e *Env) Fingerprint() string { return util.JsonHash(e.params) }

func (e *Env) ActionSpace() core.ActionSpace {
	return core.ActionSpace{N: len(actionNames), Names: actionNames}
}

func (e *Env) ObservationSpace() core.ObservationSpace {
	return core.ObservationSpace{
		Features: []string{"lane", "speed", "target_speed", "lead_gap", "lead_speed", "rear_gap", "rear_speed"},
		// Ego plus leader and follower in the ego lane and both adjacent lanes.
		Entities: 7,
	}
}

// Reset rebuilds the road from the seed. Identical seeds produce identical
// traffic, and the simulation itself is deterministic, so trajectories are
// reproducible under a fixed action sequence.
func (e *Env) Reset(seed uint64) (core.Observation, error) {
	e.rng = erand.New(erand.NewSource(seed))
	e.lastSeed = seed
	e.done = false
	e.started = true

	e.ego = &vehicle{
		lane:        e.params.Lanes / 2,
		x:           0,
		speed:       e.params.EgoSpeed,
		targetSpeed: e.params.EgoSpeed,
	}
	e.traffic = make([]*vehicle, 0, e.params.Vehicles)
	x := e.ego.x
	for i := 0; i < e.params.Vehicles; i++ {
		x += e.params.SpawnSpacing * (0.7 + 0.6*e.rng.Float64())
		speed := e.params.TrafficSpeed * (0.8 + 0.4*e.rng.Float64())
		e.traffic = append(e.traffic, &vehicle{
			lane:        e.rng.Intn(e.params.Lanes),
			x:           x,
			speed:       speed,
			targetSpeed: speed,
		})
	}
	return e.observe(), nil
}

// Step advances the simulation by one decision tick.
func (e *Env) Step(action core.Action) (core.Observation, float64, bool, core.StepInfo, error) {
	if !e.started {
		return nil, 0, false, nil, fmt.Errorf("step before reset")
	}
	if e.done {
		return nil, 0, false, nil, core.ErrInvalidTransition
	}
	if !e.ActionSpace().Contains(action) {
		return nil, 0, false, nil, fmt.Errorf("action %d outside action space", action)
	}

	e.applyEgoAction(action)
	e.advanceTraffic()
	for i := 0; i < e.params.SimSteps; i++ {
		e.integrate(e.params.Dt / float64(e.params.SimSteps))
		e.detectCollisions()
		if e.ego.crashed {
			break
		}
	}

	if e.ego.crashed {
		e.done = true
	}
	reward := e.reward()
	info := core.StepInfo{
		"speed":   e.ego.speed,
		"lane":    e.ego.lane,
		"crashed": e.ego.crashed,
		"seed":    e.lastSeed,
	}
	return e.observe(), reward, e.done, info, nil
}

func (e *Env) applyEgoAction(action core.Action) {
	switch action {
	case ActionLaneLeft:
		if e.ego.lane > 0 {
			e.ego.lane--
		}
	case ActionLaneRight:
		if e.ego.lane < e.params.Lanes-1 {
			e.ego.lane++
		}
	case ActionFaster:
		e.ego.targetSpeed = math.Min(e.ego.targetSpeed+deltaSpeed, maxSpeed)
	case ActionSlower:
		e.ego.targetSpeed = math.Max(e.ego.targetSpeed-deltaSpeed, 0)
	}
}

// advanceTraffic lets each NPC decide a lane change (MOBIL) and an
// acceleration (IDM) for the coming tick.
func (e *Env) advanceTraffic() {
	for _, v := range e.traffic {
		if v.crashed {
			continue
		}
		for _, lane := range []int{v.lane - 1, v.lane + 1} {
			if lane < 0 || lane >= e.params.Lanes {
				continue
			}
			if math.Abs(v.speed) < 1 {
				continue
			}
			oldPre, oldFol := e.neighbours(v, v.lane)
			newPre, newFol := e.neighbours(v, lane)
			if mobil(v, oldPre, oldFol, newPre, newFol) {
				v.lane = lane
				break
			}
		}
	}
}

// integrate applies accelerations and moves every vehicle forward by one
// kinematic substep.
func (e *Env) integrate(dt float64) {
	// Ego: proportional control toward its commanded speed. The ego does
	// not brake for traffic on its own; avoiding the leader is the agent's
	// job.
	egoAcc := util.Clamp(kpSpeed*(e.ego.targetSpeed-e.ego.speed), -accMax, accMax)

	accs := make([]float64, len(e.traffic))
	for i, v := range e.traffic {
		if v.crashed {
			continue
		}
		front, _ := e.neighbours(v, v.lane)
		accs[i] = util.Clamp(idmAcceleration(v, front), -accMax, accMax)
	}

	e.ego.x += e.ego.speed * dt
	e.ego.speed = util.Clamp(e.ego.speed+egoAcc*dt, 0, maxSpeed)
	for i, v := range e.traffic {
		if v.crashed {
			continue
		}
		v.x += v.speed * dt
		v.speed = util.Clamp(v.speed+accs[i]*dt, 0, maxSpeed)
	}
}

func (e *Env) detectCollisions() {
	all := e.vehicles()
	for i, a := range all {
		for _, b := range all[i+1:] {
			if a.lane != b.lane {
				continue
			}
			if math.Abs(a.x-b.x) < vehicleLength {
				a.crashed = true
				b.crashed = true
			}
		}
	}
}

// reward combines a scaled speed term, a keep-right bonus, and a collision
// penalty.
func (e *Env) reward() float64 {
	p := e.params
	speedScale := util.Clamp((e.ego.speed-p.RewardSpeedMin)/(p.RewardSpeedMax-p.RewardSpeedMin), 0, 1)
	r := p.HighSpeedReward * speedScale
	if p.Lanes > 1 {
		r += p.RightLaneReward * float64(e.ego.lane) / float64(p.Lanes-1)
	}
	if e.ego.crashed {
		r -= p.CollisionReward
	}
	return r
}

func (e *Env) vehicles() []*vehicle {
	all := make([]*vehicle, 0, len(e.traffic)+1)
	all = append(all, e.ego)
	all = append(all, e.traffic...)
	return all
}

// neighbours finds the closest leader and follower of v in the given lane.
func (e *Env) neighbours(v *vehicle, lane int) (front, rear *vehicle) {
	for _, other := range e.vehicles() {
		if other == v || other.lane != lane {
			continue
		}
		if other.x >= v.x {
			if front == nil || other.x < front.x {
				front = other
			}
		} else {
			if rear == nil || other.x > rear.x {
				rear = other
			}
		}
	}
	return front, rear
}

// Render draws a coarse occupancy image of the road around the ego.
func (e *Env) Render() *core.Frame {
	if !e.started {
		return nil
	}
	const (
		window   = 80.0 // metres shown ahead and behind the ego
		pxPerM   = 1.0
		laneRows = 4
	)
	width := int(2 * window * pxPerM)
	height := e.params.Lanes * laneRows
	pixels := make([]byte, width*height)

	draw := func(v *vehicle, shade byte) {
		dx := v.x - e.ego.x
		if dx < -window || dx > window {
			return
		}
		col := int((dx + window) * pxPerM)
		for r := 0; r < laneRows-1; r++ {
			row := v.lane*laneRows + r
			for c := col - int(vehicleLength)/2; c <= col+int(vehicleLength)/2; c++ {
				if c >= 0 && c < width {
					pixels[row*width+c] = shade
				}
			}
		}
	}
	for _, v := range e.traffic {
		draw(v, 0xff)
	}
	draw(e.ego, 0x80)
	return &core.Frame{Width: width, Height: height, Pixels: pixels}
}

// observe builds the kinematic observation around the ego.
func (e *Env) observe() *Obs {
	obs := &Obs{
		Lanes:       e.params.Lanes,
		EgoLane:     e.ego.lane,
		EgoSpeed:    e.ego.speed,
		TargetSpeed: e.ego.targetSpeed,
		Crashed:     e.ego.crashed,
	}
	fill := func(lane int) *LaneObs {
		if lane < 0 || lane >= e.params.Lanes {
			return nil
		}
		lo := &LaneObs{}
		front, rear := e.neighbours(e.ego, lane)
		if front != nil {
			lo.Lead = &VehicleObs{Gap: front.x - e.ego.x, Speed: front.speed}
		}
		if rear != nil {
			lo.Rear = &VehicleObs{Gap: e.ego.x - rear.x, Speed: rear.speed}
		}
		return lo
	}
	obs.Left = fill(e.ego.lane - 1)
	obs.Same = fill(e.ego.lane)
	obs.Right = fill(e.ego.lane + 1)
	return obs
}

// Obs is the ego-centric kinematic observation for one tick.
type Obs struct {
	Lanes       int
	EgoLane     int
	EgoSpeed    float64
	TargetSpeed float64
	Crashed     bool

	// Adjacent-lane views; nil when the lane does not exist.
	Left  *LaneObs
	Same  *LaneObs
	Right *LaneObs
}

// LaneObs is what the ego sees in one lane.
type LaneObs struct {
	Lead *VehicleObs
	Rear *VehicleObs
}

// VehicleObs is a neighbouring vehicle reduced to gap and absolute speed.
type VehicleObs struct {
	Gap   float64
	Speed float64
}

var _ core.Observation = &Obs{}

// Key discretizes the observation for tabular agents: ego lane, a speed
// bucket, and coarse gap buckets for the three relevant leaders.
func (o *Obs) Key() string {
	return fmt.Sprintf("l%d:v%d:f%s:L%s:R%s",
		o.EgoLane,
		int(o.EgoSpeed/5),
		gapBucket(o.Same),
		gapBucket(o.Left),
		gapBucket(o.Right),
	)
}

func gapBucket(lo *LaneObs) string {
	if lo == nil {
		return "x"
	}
	if lo.Lead == nil {
		return "open"
	}
	gaps := []float64{10, 20, 50}
	for i, g := range gaps {
		if lo.Lead.Gap < g {
			return fmt.Sprintf("g%d", i)
		}
	}
	return "far"
}
