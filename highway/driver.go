package highway

import (
	"io"

	"github.com/pkg/errors"

	"github.com/roadrl/harness/core"
)

// Driver is the rule-based agent: the same IDM and MOBIL rules the traffic
// follows, mapped onto the ego's meta-actions. Its action is a deterministic
// function of the observation; it ignores explore, never learns, and needs
// no checkpoint state.
type Driver struct {
	// cruiseSpeed is the speed the driver works toward on an open road.
	cruiseSpeed float64
}

var _ core.Agent = &Driver{}

func NewDriver(cruiseSpeed float64) *Driver {
	if cruiseSpeed <= 0 {
		cruiseSpeed = 30
	}
	return &Driver{cruiseSpeed: cruiseSpeed}
}

func (d *Driver) Name() string { return "idm" }

func (d *Driver) Act(obs core.Observation, _ bool) (core.Action, error) {
	o, ok := obs.(*Obs)
	if !ok {
		return 0, errors.Errorf("driver needs a highway observation, got %T", obs)
	}

	ego := &vehicle{lane: o.EgoLane, x: 0, speed: o.EgoSpeed, targetSpeed: d.cruiseSpeed}
	samePre, sameFol := laneVehicles(o.Same)

	// Lateral first: take a lane change as soon as MOBIL recommends one.
	if o.EgoSpeed >= 1 {
		if newPre, newFol := laneVehicles(o.Left); o.Left != nil {
			if mobil(ego, samePre, sameFol, newPre, newFol) {
				return ActionLaneLeft, nil
			}
		}
		if newPre, newFol := laneVehicles(o.Right); o.Right != nil {
			if mobil(ego, samePre, sameFol, newPre, newFol) {
				return ActionLaneRight, nil
			}
		}
	}

	// Longitudinal: follow the IDM command through the speed meta-actions.
	acc := idmAcceleration(ego, samePre)
	switch {
	case acc < -laneChangeMinAccGain:
		return ActionSlower, nil
	case acc > laneChangeMinAccGain && o.TargetSpeed < d.cruiseSpeed:
		return ActionFaster, nil
	}
	return ActionIdle, nil
}

// laneVehicles lifts a lane observation into pseudo-vehicles positioned
// relative to the ego for the driving model.
func laneVehicles(lo *LaneObs) (front, rear *vehicle) {
	if lo == nil {
		return nil, nil
	}
	if lo.Lead != nil {
		front = &vehicle{x: lo.Lead.Gap, speed: lo.Lead.Speed, targetSpeed: lo.Lead.Speed}
	}
	if lo.Rear != nil {
		rear = &vehicle{x: -lo.Rear.Gap, speed: lo.Rear.Speed, targetSpeed: lo.Rear.Speed}
	}
	return front, rear
}

func (d *Driver) Observe(core.Transition) {}

func (d *Driver) TrainStep() (core.Metrics, error) { return nil, nil }

func (d *Driver) Save(w io.Writer) error {
	_, err := w.Write([]byte("idm\n"))
	return err
}

func (d *Driver) Load(r io.Reader) error {
	_, err := io.ReadAll(r)
	return err
}
