package state

import "evo-control-unit/internal/model"

// MachineMachine is the global machine-level state machine.
type MachineMachine struct {
	State model.MachineState
}

// NewMachineMachine returns a machine in Stopped.
func NewMachineMachine() *MachineMachine { return &MachineMachine{State: model.MachineStopped} }

// CurrentState returns the current MachineState.
func (m *MachineMachine) CurrentState() model.MachineState { return m.State }

// SetState transitions to the requested state unconditionally; command
// arbitration (internal/command) owns the authorization guard, this machine
// only records the result.
func (m *MachineMachine) SetState(s model.MachineState) { m.State = s }

// ForceSystemError drives the machine unconditionally to SystemError.
func (m *MachineMachine) ForceSystemError() { m.State = model.MachineSystemError }

// SafetyMachine is the global safety state machine. It is driven entirely
// by the safety evaluation pipeline (internal/safety), not by operator
// commands: any CRITICAL bit set anywhere forces SafetyStop; a configured
// reduced-speed input forces SafeReducedSpeed; otherwise Safe.
type SafetyMachine struct {
	State model.SafetyState
}

// NewSafetyMachine returns a machine in Safe.
func NewSafetyMachine() *SafetyMachine { return &SafetyMachine{State: model.SafetySafe} }

// CurrentState returns the current SafetyState.
func (m *SafetyMachine) CurrentState() model.SafetyState { return m.State }

// Evaluate derives the safety state from the current cycle's inputs.
func (m *SafetyMachine) Evaluate(anyCritical, reducedSpeedInputActive bool) model.SafetyState {
	switch {
	case anyCritical:
		m.State = model.SafetySafetyStop
	case reducedSpeedInputActive:
		m.State = model.SafetySafeReducedSpeed
	default:
		m.State = model.SafetySafe
	}
	return m.State
}
