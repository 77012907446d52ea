package state

import (
	"math"

	"evo-control-unit/internal/model"
)

// MotionEvent enumerates the inputs the motion state machine reacts to.
type MotionEvent int

const (
	MotionEvStartMotion MotionEvent = iota
	MotionEvReachedVelocity
	MotionEvDecelerating
	MotionEvStandstill
	MotionEvStop
	MotionEvEmergencyStop
	MotionEvStartHoming
	MotionEvHomingComplete
	MotionEvHomingFailed
	MotionEvGearAssist
	MotionEvGearAssistComplete
	MotionEvMotionError
	MotionEvErrorReset
)

// MotionMachine is the per-axis motion state machine.
type MotionMachine struct {
	State model.MotionState
}

// NewMotionMachine returns a machine in Standstill.
func NewMotionMachine() *MotionMachine { return &MotionMachine{State: model.MotionStandstill} }

// CurrentState returns the machine's current MotionState.
func (m *MotionMachine) CurrentState() model.MotionState { return m.State }

// HandleEvent applies ev. MotionError and EmergencyStop are accepted from
// any state.
func (m *MotionMachine) HandleEvent(ev MotionEvent) Transition {
	switch ev {
	case MotionEvMotionError:
		m.State = model.MotionError_
		return accepted()
	case MotionEvEmergencyStop:
		m.State = model.MotionEmergencyStop
		return accepted()
	}

	switch m.State {
	case model.MotionStandstill:
		switch ev {
		case MotionEvStartMotion:
			m.State = model.MotionAccelerating
			return accepted()
		case MotionEvStartHoming:
			m.State = model.MotionHoming
			return accepted()
		case MotionEvGearAssist:
			m.State = model.MotionGearAssistMotion
			return accepted()
		}
	case model.MotionAccelerating:
		switch ev {
		case MotionEvReachedVelocity:
			m.State = model.MotionConstantVelocity
			return accepted()
		case MotionEvStop:
			m.State = model.MotionStopping
			return accepted()
		}
	case model.MotionConstantVelocity:
		switch ev {
		case MotionEvDecelerating:
			m.State = model.MotionDecelerating
			return accepted()
		case MotionEvStop:
			m.State = model.MotionStopping
			return accepted()
		}
	case model.MotionDecelerating:
		switch ev {
		case MotionEvStandstill:
			m.State = model.MotionStandstill
			return accepted()
		case MotionEvStop:
			m.State = model.MotionStopping
			return accepted()
		}
	case model.MotionStopping:
		switch ev {
		case MotionEvStandstill:
			m.State = model.MotionStandstill
			return accepted()
		}
	case model.MotionEmergencyStop:
		switch ev {
		case MotionEvStandstill:
			m.State = model.MotionStandstill
			return accepted()
		}
	case model.MotionHoming:
		switch ev {
		case MotionEvHomingComplete:
			m.State = model.MotionStandstill
			return accepted()
		case MotionEvHomingFailed:
			m.State = model.MotionError_
			return accepted()
		}
	case model.MotionGearAssistMotion:
		switch ev {
		case MotionEvGearAssistComplete:
			m.State = model.MotionStandstill
			return accepted()
		}
	case model.MotionError_:
		switch ev {
		case MotionEvErrorReset:
			m.State = model.MotionStandstill
			return accepted()
		}
	}
	return rejected("event not applicable in current motion state")
}

// ForceEmergencyStop drives the machine unconditionally to EmergencyStop.
func (m *MotionMachine) ForceEmergencyStop() { m.State = model.MotionEmergencyStop }

// ForceError drives the machine unconditionally to MotionError.
func (m *MotionMachine) ForceError() { m.State = model.MotionError_ }

// CheckUnreferencedPolicy returns a rejection reason if the axis has not
// completed homing and the requested mode does not permit unreferenced
// motion (Manual/Test only, per FR §4.C.2 unreferenced-axis policy).
func CheckUnreferencedPolicy(referenced bool, mode model.OperationalMode) (string, bool) {
	if referenced {
		return "", true
	}
	if !model.IsModeAllowedUnreferenced(mode) {
		return model.ErrNotReferenced, false
	}
	return "", true
}

// UnreferencedVelocityLimit returns the velocity ceiling permitted for an
// unreferenced axis as a fraction of its configured maximum.
func UnreferencedVelocityLimit(maxVelocity float64) float64 {
	return maxVelocity * model.UnreferencedSpeedFraction
}

// ClampUnreferencedVelocity clamps velocity to the unreferenced limit,
// preserving sign, when the axis is not yet referenced.
func ClampUnreferencedVelocity(velocity, maxVelocity float64, referenced bool) float64 {
	if referenced {
		return velocity
	}
	limit := UnreferencedVelocityLimit(maxVelocity)
	if math.Abs(velocity) > limit {
		if velocity < 0 {
			return -limit
		}
		return limit
	}
	return velocity
}

// EnforceSoftLimits clamps position to [minPos, maxPos] unless the axis is
// unreferenced, in which case soft limits do not yet apply (no known
// origin).
func EnforceSoftLimits(position, minPos, maxPos float64, referenced bool) float64 {
	if !referenced {
		return position
	}
	if position < minPos {
		return minPos
	}
	if position > maxPos {
		return maxPos
	}
	return position
}
