package highway

import "math"

// Longitudinal (IDM) and lateral (MOBIL) driving model parameters.
const (
	vehicleLength = 5.0 // [m]
	maxSpeed      = 40.0
	accMax        = 5.0 // [m/s2]
	comfortAccMax = 3.0
	comfortAccMin = -5.0

	distanceWanted = 5.0 + vehicleLength // jam distance to the front vehicle [m]
	timeWanted     = 0.5                 // time gap to the front vehicle [s]
	delta          = 4.0                 // exponent of the velocity term

	politeness             = 0.0
	laneChangeMinAccGain   = 0.2 // [m/s2]
	laneChangeMaxBrakeLoad = 5.0 // braking imposed on the new follower [m/s2]

	// Proportional speed controller gain for the ego vehicle.
	kpSpeed = 1.0 / 0.6
)

// vehicle is one car on the road. Positions are longitudinal; lanes are
// discrete with 0 as the leftmost lane.
type vehicle struct {
	lane        int
	x           float64
	speed       float64
	targetSpeed float64
	crashed     bool
}

func notZero(v float64) float64 {
	const eps = 1e-2
	if math.Abs(v) >= eps {
		return v
	}
	if v >= 0 {
		return eps
	}
	return -eps
}

// idmAcceleration computes the Intelligent Driver Model command: approach
// the target speed, but keep a safe gap and time headway to the leader.
func idmAcceleration(ego, front *vehicle) float64 {
	if ego == nil {
		return 0
	}
	target := math.Max(ego.targetSpeed, 0)
	acc := comfortAccMax * (1 - math.Pow(math.Max(ego.speed, 0)/math.Abs(notZero(target)), delta))
	if front != nil {
		d := front.x - ego.x
		acc -= comfortAccMax * math.Pow(desiredGap(ego, front)/notZero(d), 2)
	}
	return acc
}

// desiredGap is the distance the ego wants to its leader, combining the jam
// distance, the time headway, and a braking term for the closing speed.
func desiredGap(ego, front *vehicle) float64 {
	d0 := distanceWanted
	tau := timeWanted
	ab := -comfortAccMax * comfortAccMin
	dv := ego.speed - front.speed
	return d0 + ego.speed*tau + ego.speed*dv/(2*math.Sqrt(ab))
}

// mobil decides whether moving ego to the candidate lane is worthwhile:
// the lane change must not impose unsafe braking on the new follower, and
// the overall acceleration gain must clear a minimum threshold.
func mobil(ego, oldPreceding, oldFollowing, newPreceding, newFollowing *vehicle) bool {
	newFollowingA := idmAcceleration(newFollowing, newPreceding)
	newFollowingPredA := idmAcceleration(newFollowing, ego)
	if newFollowingPredA < -laneChangeMaxBrakeLoad {
		return false
	}

	selfPredA := idmAcceleration(ego, newPreceding)
	selfA := idmAcceleration(ego, oldPreceding)
	oldFollowingA := idmAcceleration(oldFollowing, ego)
	oldFollowingPredA := idmAcceleration(oldFollowing, oldPreceding)
	jerk := selfPredA - selfA + politeness*(newFollowingPredA-newFollowingA+oldFollowingPredA-oldFollowingA)
	return jerk >= laneChangeMinAccGain
}
