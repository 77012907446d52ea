package state

import (
	"math"

	"evo-control-unit/internal/model"
)

// CouplingEvent enumerates the inputs the coupling state machine reacts to.
type CouplingEvent int

const (
	CouplingEvCoupleAsMaster CouplingEvent = iota
	CouplingEvCoupleAsSlave
	CouplingEvSyncAchieved
	CouplingEvSyncTimeout
	CouplingEvSyncLost
	CouplingEvDecouple
	CouplingEvDecoupleComplete
	CouplingEvResync
	CouplingEvMasterFault
)

// CouplingConfig holds the per-axis static coupling parameters.
type CouplingConfig struct {
	Ratio            float64
	Offset           float64
	IsModulated      bool
	SyncTimeoutSec   float64
	MaxLagDifference float64
	LagPolicy        model.LagPolicy
}

// CouplingStateMachine is the per-axis master/slave synchronization state
// machine.
type CouplingStateMachine struct {
	State         model.CouplingState
	SyncWaitCycles uint32
	syncTimeoutCycles uint32
	IsModulated   bool
}

// NewCouplingStateMachine builds a machine with sync_timeout_cycles derived
// from the configured wall-clock timeout and the cycle period, rounded up.
func NewCouplingStateMachine(cfg CouplingConfig, cycleTimeUs uint32) *CouplingStateMachine {
	cycleSeconds := float64(cycleTimeUs) / 1_000_000.0
	timeoutCycles := uint32(math.Ceil(cfg.SyncTimeoutSec / cycleSeconds))
	return &CouplingStateMachine{
		State:             model.CouplingUncoupled,
		syncTimeoutCycles: timeoutCycles,
		IsModulated:       cfg.IsModulated,
	}
}

// CurrentState returns the machine's current CouplingState.
func (m *CouplingStateMachine) CurrentState() model.CouplingState { return m.State }

// HandleEvent applies ev. Guard I-CP-4: coupling transitions are blocked
// while the axis carries a PowerError or MotionError (checked by the
// caller via hasCriticalError before invoking CoupleAsMaster/CoupleAsSlave);
// requiresStandstill additionally guards coupling entry on the motion
// state.
func (m *CouplingStateMachine) HandleEvent(ev CouplingEvent, motionIsStandstill bool) Transition {
	if ev == CouplingEvMasterFault {
		m.State = model.CouplingMasterFault
		return accepted()
	}

	switch m.State {
	case model.CouplingUncoupled:
		switch ev {
		case CouplingEvCoupleAsMaster:
			if !motionIsStandstill {
				return rejected("coupling requires standstill")
			}
			m.State = model.CouplingMaster
			return accepted()
		case CouplingEvCoupleAsSlave:
			if !motionIsStandstill {
				return rejected("coupling requires standstill")
			}
			m.State = model.CouplingWaitingSync
			m.SyncWaitCycles = 0
			return accepted()
		}
	case model.CouplingMaster:
		switch ev {
		case CouplingEvDecouple:
			m.State = model.CouplingDecoupling
			return accepted()
		}
	case model.CouplingWaitingSync:
		switch ev {
		case CouplingEvSyncAchieved:
			m.State = m.syncLanding()
			return accepted()
		case CouplingEvSyncTimeout:
			m.State = model.CouplingError_
			return accepted()
		case CouplingEvDecouple:
			m.State = model.CouplingDecoupling
			return accepted()
		}
	case model.CouplingSlaveCoupled, model.CouplingSlaveModulated:
		switch ev {
		case CouplingEvSyncLost:
			m.State = model.CouplingSlaveSyncLost
			return accepted()
		case CouplingEvDecouple:
			m.State = model.CouplingDecoupling
			return accepted()
		}
	case model.CouplingSlaveSyncLost:
		switch ev {
		case CouplingEvResync:
			m.State = model.CouplingResyncing
			m.SyncWaitCycles = 0
			return accepted()
		case CouplingEvDecouple:
			m.State = model.CouplingDecoupling
			return accepted()
		}
	case model.CouplingResyncing:
		switch ev {
		case CouplingEvSyncAchieved:
			m.State = m.syncLanding()
			return accepted()
		case CouplingEvSyncTimeout:
			m.State = model.CouplingError_
			return accepted()
		case CouplingEvDecouple:
			m.State = model.CouplingDecoupling
			return accepted()
		}
	case model.CouplingDecoupling:
		switch ev {
		case CouplingEvDecoupleComplete:
			m.State = model.CouplingUncoupled
			return accepted()
		}
	case model.CouplingMasterFault, model.CouplingError_:
		switch ev {
		case CouplingEvDecouple:
			m.State = model.CouplingDecoupling
			return accepted()
		}
	}
	return rejected("event not applicable in current coupling state")
}

// syncLanding picks the sync-achieved destination state: SlaveModulated when
// the machine is configured as modulated (IsModulated), SlaveCoupled
// otherwise (spec §4.C.6). The coupling offset value itself is not consulted.
func (m *CouplingStateMachine) syncLanding() model.CouplingState {
	if m.IsModulated {
		return model.CouplingSlaveModulated
	}
	return model.CouplingSlaveCoupled
}

// ForceDecouple drives the machine unconditionally back to Uncoupled.
func (m *CouplingStateMachine) ForceDecouple() { m.State = model.CouplingUncoupled }

// ForceSyncLost forces a synced slave into SlaveSyncLost.
func (m *CouplingStateMachine) ForceSyncLost() {
	if m.State.IsSlave() {
		m.State = model.CouplingSlaveSyncLost
	}
}

// TickSyncTimeout advances the sync-wait counter while waiting or
// resyncing, returning true once the configured timeout is exceeded.
func (m *CouplingStateMachine) TickSyncTimeout() bool {
	if m.State != model.CouplingWaitingSync && m.State != model.CouplingResyncing {
		return false
	}
	m.SyncWaitCycles++
	return m.SyncWaitCycles > m.syncTimeoutCycles
}

// AllSlavesSynced reports whether every slave in states has reached either
// sync-achieved landing state (SlaveCoupled or SlaveModulated).
func AllSlavesSynced(states []model.CouplingState) bool {
	for _, s := range states {
		if s != model.CouplingSlaveCoupled && s != model.CouplingSlaveModulated {
			return false
		}
	}
	return len(states) > 0
}

// ProcessBottomUpSync advances only those axes currently WaitingSync whose
// syncReady flag is set, bottom-up (deepest slaves first, by caller-supplied
// ordering) so a master does not appear synced before its own slaves are.
func ProcessBottomUpSync(machines []*CouplingStateMachine, syncReady []bool) {
	for i, m := range machines {
		if m.State == model.CouplingWaitingSync && i < len(syncReady) && syncReady[i] {
			m.HandleEvent(CouplingEvSyncAchieved, true)
		}
	}
}

// CalculateSlavePosition derives a slave axis's target position from the
// master's position, the configured ratio, and (for modulated couplings)
// an additive offset.
func CalculateSlavePosition(masterPos, ratio, offset float64, isModulated bool) float64 {
	base := masterPos * ratio
	if isModulated {
		return base + offset
	}
	return base
}

// CheckLagDifference reports whether the absolute difference between
// master and slave lag exceeds maxLagDiff.
func CheckLagDifference(masterLag, slaveLag, maxLagDiff float64) bool {
	return math.Abs(masterLag-slaveLag) > maxLagDiff
}

// AxisCouplingRuntime bundles a coupling machine with its static config and
// accumulated error bits, and runs the per-cycle evaluation.
type AxisCouplingRuntime struct {
	Machine *CouplingStateMachine
	Config  CouplingConfig
	Errors  model.CouplingError
}

// EvaluateCycle ticks the sync timeout and, for slave-side states, checks
// the lag difference against the configured threshold, forcing a sync-lost
// transition and raising LAG_DIFF_EXCEED on violation.
func (r *AxisCouplingRuntime) EvaluateCycle(masterLag *float64, slaveLag float64) {
	if r.Machine.TickSyncTimeout() {
		r.Errors |= model.CouplingErrSyncTimeout
	}
	if !r.Machine.State.IsSlave() || masterLag == nil {
		return
	}
	if CheckLagDifference(*masterLag, slaveLag, r.Config.MaxLagDifference) {
		r.Machine.ForceSyncLost()
		r.Errors |= model.CouplingErrLagDiffExceed
	}
}
