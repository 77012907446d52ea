package safety

import "evo-control-unit/internal/model"

// RecoveryStep enumerates the staged sequence run once SafetyState leaves
// SafetyStop and an operator issues ErrorReset.
type RecoveryStep uint8

const (
	RecoveryCheckClear RecoveryStep = iota
	RecoveryClearErrors
	RecoveryAwaitOperatorConfirm
	RecoveryComplete
)

// RecoveryManager steps an axis back from SafetyStop to normal operation.
// Recovery never happens automatically mid-cycle; it only advances when the
// underlying fault condition has actually cleared.
type RecoveryManager struct {
	Step      RecoveryStep
	Requested bool
}

// Request begins a recovery attempt on the next tick.
func (r *RecoveryManager) Request() {
	r.Requested = true
	r.Step = RecoveryCheckClear
}

// Tick advances the recovery sequence by one cycle. faultsClear reports
// whether every axis error bit has been cleared; operatorConfirmed reports
// whether an explicit ErrorReset command was observed this cycle. Returns
// true once recovery has completed and the caller should clear the
// SafeStopExecutor and return the axis to PowerOff.
func (r *RecoveryManager) Tick(faultsClear, operatorConfirmed bool) bool {
	if !r.Requested {
		return false
	}
	switch r.Step {
	case RecoveryCheckClear:
		if faultsClear {
			r.Step = RecoveryClearErrors
		}
	case RecoveryClearErrors:
		r.Step = RecoveryAwaitOperatorConfirm
	case RecoveryAwaitOperatorConfirm:
		if operatorConfirmed {
			r.Step = RecoveryComplete
		}
	case RecoveryComplete:
		r.Requested = false
		r.Step = RecoveryCheckClear
		return true
	}
	return false
}

// ClearAxisErrors zeroes every bitflag set, called at RecoveryClearErrors.
func ClearAxisErrors(errs *model.AxisErrorState) { errs.Clear() }
