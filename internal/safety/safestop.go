package safety

import "evo-control-unit/internal/model"

// StopAction is the immediate actuation a safe-stop executor demands of the
// axis command pipeline for the current cycle.
type StopAction struct {
	Enable        bool
	VelocityLimit float64 // 0 means "command zero velocity"
	HoldPosition  bool
}

// SafeStopExecutor drives one axis through its configured stop category
// once a critical error (or an upstream coupling propagation) forces a
// safety stop. Safety-stop has no timeout; it persists until the recovery
// manager completes a recovery sequence (spec §4.E.5, §7 cancellation
// rules).
type SafeStopExecutor struct {
	Category model.SafeStopCategory
	Active   bool
	holdPos  float64
}

// Trigger activates the executor for the given category. STO/lock-pin/
// brake/tailstock criticals always resolve to STO regardless of the axis's
// configured default (spec §9 open-question resolution); callers pass the
// category already resolved by the propagation layer.
func (e *SafeStopExecutor) Trigger(category model.SafeStopCategory, currentPosition float64) {
	e.Category = category
	e.Active = true
	e.holdPos = currentPosition
}

// Tick returns this cycle's stop action. STO cuts power immediately; SS1
// commands a decelerating trajectory to zero velocity and then disables;
// SS2 decelerates and then holds position with the drive still enabled.
func (e *SafeStopExecutor) Tick(actualVelocity float64) StopAction {
	if !e.Active {
		return StopAction{Enable: true}
	}
	switch e.Category {
	case model.SafeStopSTO:
		return StopAction{Enable: false, VelocityLimit: 0}
	case model.SafeStopSS2:
		if actualVelocity == 0 {
			return StopAction{Enable: true, HoldPosition: true}
		}
		return StopAction{Enable: true, VelocityLimit: 0}
	default: // SafeStopSS1
		if actualVelocity == 0 {
			return StopAction{Enable: false}
		}
		return StopAction{Enable: true, VelocityLimit: 0}
	}
}

// HoldPosition returns the position latched when the stop was triggered,
// valid only once Tick has reported HoldPosition (SS2, settled).
func (e *SafeStopExecutor) HoldPosition() float64 { return e.holdPos }

// Clear deactivates the executor; called once the recovery manager has
// completed its sequence.
func (e *SafeStopExecutor) Clear() { e.Active = false }

// ResolveStopCategory implements the spec §9 open-question decision:
// tailstock/lock-pin/brake peripheral criticals always map to STO (the axis
// is mechanically unsafe to decelerate under power); every other critical
// source uses the axis's configured default (typically SS1).
func ResolveStopCategory(errs model.AxisErrorState, configuredDefault model.SafeStopCategory) model.SafeStopCategory {
	stoMask := model.PowerErrDriveTailOpen | model.PowerErrDriveLockPinLocked | model.PowerErrDriveBrakeLocked
	if errs.Power&stoMask != 0 {
		return model.SafeStopSTO
	}
	return configuredDefault
}
