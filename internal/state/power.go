// Package state implements the per-axis power, motion and coupling state
// machines, the homing step sequence, and the two global machines (machine
// and safety state). The per-axis machines expose CurrentState, HandleEvent
// and a Force* escape hatch for safety-triggered transitions.
package state

import "evo-control-unit/internal/model"

// PowerEvent enumerates the inputs the power-sequencing machine reacts to.
type PowerEvent int

const (
	PowerEvEnable PowerEvent = iota
	PowerEvDisable
	PowerEvStepComplete
	PowerEvStepTimeout
	PowerEvMotionCommand
	PowerEvMotionComplete
	PowerEvDriveFault
	PowerEvErrorReset
	PowerEvNoBrakeEnter
	PowerEvNoBrakeExit
)

// PowerConfig describes the per-axis hardware options that determine which
// sequence steps are applicable.
type PowerConfig struct {
	HasBrake    bool
	HasLockPin  bool
	IsGravity   bool
	StepTimeout [8]uint32 // cycle budget indexed by PowerOnStep/PowerOffStep
}

// SequenceTracker counts elapsed cycles within the current step of a
// multi-step sequence (PoweringOn/PoweringOff).
type SequenceTracker struct {
	Step       uint8
	StepCycles uint32
}

// Advance resets the cycle counter and moves to the next step.
func (t *SequenceTracker) Advance(next uint8) {
	t.Step = next
	t.StepCycles = 0
}

// Tick increments the elapsed-cycle counter for the current step.
func (t *SequenceTracker) Tick() { t.StepCycles++ }

// TimedOut reports whether the tracker has exceeded budget cycles in its
// current step.
func (t *SequenceTracker) TimedOut(budget uint32) bool { return t.StepCycles > budget }

// Transition is the result of handling an event: whether it was accepted
// and, for rejected transitions, a stable reason string callers surface as a
// non-fatal command error. The resulting state is read from the machine.
type Transition struct {
	Accepted bool
	Reason   string
}

func accepted() Transition  { return Transition{Accepted: true} }
func rejected(r string) Transition { return Transition{Accepted: false, Reason: r} }

// PowerMachine is the per-axis power-sequencing state machine.
type PowerMachine struct {
	State   model.PowerState
	OnStep  model.PowerOnStep
	OffStep model.PowerOffStep
	Tracker SequenceTracker
	cfg     PowerConfig
}

// NewPowerMachine returns a machine in PowerOff with the given hardware
// configuration.
func NewPowerMachine(cfg PowerConfig) *PowerMachine {
	return &PowerMachine{State: model.PowerOff, cfg: cfg}
}

// CurrentState returns the machine's current PowerState.
func (m *PowerMachine) CurrentState() model.PowerState { return m.State }

// HandleEvent applies ev, returning whether the transition was accepted.
// DriveFault is accepted from any state (I-PW guard) and drives the axis
// directly to PowerFault.
func (m *PowerMachine) HandleEvent(ev PowerEvent) Transition {
	if ev == PowerEvDriveFault {
		m.State = model.PowerFault
		return accepted()
	}

	switch m.State {
	case model.PowerOff:
		switch ev {
		case PowerEvEnable:
			m.State = model.PoweringOn
			m.OnStep = model.PowerOnCheckSafety
			m.Tracker = SequenceTracker{}
			m.skipInapplicableOnSteps()
			return accepted()
		case PowerEvNoBrakeEnter:
			m.State = model.PowerNoBrake
			return accepted()
		}
	case model.PoweringOn:
		switch ev {
		case PowerEvStepComplete:
			return m.advanceOnStep()
		case PowerEvStepTimeout:
			m.State = model.PowerFault
			return accepted()
		case PowerEvDisable:
			m.State = model.PowerOff
			return accepted()
		}
	case model.PowerStandby:
		switch ev {
		case PowerEvMotionCommand:
			m.State = model.PowerMotion
			return accepted()
		case PowerEvDisable:
			m.State = model.PoweringOff
			m.OffStep = model.PowerOffCheckLockPosition
			m.Tracker = SequenceTracker{}
			m.skipInapplicableOffSteps()
			return accepted()
		}
	case model.PowerMotion:
		switch ev {
		case PowerEvMotionComplete:
			m.State = model.PowerStandby
			return accepted()
		case PowerEvDisable:
			return rejected("cannot disable axis while in motion")
		}
	case model.PoweringOff:
		switch ev {
		case PowerEvStepComplete:
			return m.advanceOffStep()
		case PowerEvStepTimeout:
			m.State = model.PowerFault
			return accepted()
		case PowerEvEnable:
			m.State = model.PoweringOn
			m.OnStep = model.PowerOnCheckSafety
			m.Tracker = SequenceTracker{}
			m.skipInapplicableOnSteps()
			return accepted()
		}
	case model.PowerNoBrake:
		switch ev {
		case PowerEvNoBrakeExit:
			m.State = model.PowerOff
			return accepted()
		}
	case model.PowerFault:
		switch ev {
		case PowerEvErrorReset:
			m.State = model.PowerOff
			return accepted()
		}
	}
	return rejected("event not applicable in current power state")
}

func (m *PowerMachine) advanceOnStep() Transition {
	if m.OnStep == model.PowerOnComplete {
		return rejected("power-on sequence already complete")
	}
	m.OnStep++
	m.Tracker.Advance(uint8(m.OnStep))
	m.skipInapplicableOnSteps()
	if m.OnStep == model.PowerOnComplete {
		m.State = model.PowerStandby
	}
	return accepted()
}

func (m *PowerMachine) advanceOffStep() Transition {
	if m.OffStep == model.PowerOffComplete {
		return rejected("power-off sequence already complete")
	}
	m.OffStep++
	m.Tracker.Advance(uint8(m.OffStep))
	m.skipInapplicableOffSteps()
	if m.OffStep == model.PowerOffComplete {
		m.State = model.PowerOff
	}
	return accepted()
}

// skipInapplicableOnSteps loop-advances past steps not applicable to this
// axis's hardware configuration (no-brake skips release/wait-brake; non
// -gravity skips position-stability check), without advancing simulated
// time.
func (m *PowerMachine) skipInapplicableOnSteps() {
	for {
		switch m.OnStep {
		case model.PowerOnReleaseBrake, model.PowerOnWaitBrakeReleased:
			if m.cfg.HasBrake {
				return
			}
		case model.PowerOnCheckPositionStable:
			if m.cfg.IsGravity {
				return
			}
		default:
			return
		}
		if m.OnStep == model.PowerOnComplete {
			return
		}
		m.OnStep++
		m.Tracker.Advance(uint8(m.OnStep))
	}
}

func (m *PowerMachine) skipInapplicableOffSteps() {
	for {
		switch m.OffStep {
		case model.PowerOffEngageBrake:
			if m.cfg.HasBrake {
				return
			}
		case model.PowerOffExtendLockPin:
			if m.cfg.HasLockPin {
				return
			}
		default:
			return
		}
		if m.OffStep == model.PowerOffComplete {
			return
		}
		m.OffStep++
		m.Tracker.Advance(uint8(m.OffStep))
	}
}

// ForceError drives the machine unconditionally to PowerFault, bypassing
// guards, for safety-triggered transitions.
func (m *PowerMachine) ForceError() { m.State = model.PowerFault }

// TickSequence advances the step-elapsed-cycle counter. It is a no-op
// outside PoweringOn/PoweringOff.
func (m *PowerMachine) TickSequence() {
	if m.State.IsSequence() {
		m.Tracker.Tick()
	}
}

// StepTimedOut reports whether the current step has exceeded its
// configured budget.
func (m *PowerMachine) StepTimedOut() bool {
	switch m.State {
	case model.PoweringOn:
		return m.Tracker.TimedOut(m.cfg.StepTimeout[m.OnStep])
	case model.PoweringOff:
		return m.Tracker.TimedOut(m.cfg.StepTimeout[m.OffStep])
	default:
		return false
	}
}
