package state

import (
	"testing"

	"evo-control-unit/internal/model"
)

func TestMachineMachineForceSystemError(t *testing.T) {
	m := NewMachineMachine()
	if m.CurrentState() != model.MachineStopped {
		t.Fatalf("initial state = %v, want MachineStopped", m.CurrentState())
	}
	m.SetState(model.MachineActive)
	if m.CurrentState() != model.MachineActive {
		t.Fatalf("SetState did not apply, got %v", m.CurrentState())
	}
	m.ForceSystemError()
	if m.CurrentState() != model.MachineSystemError {
		t.Errorf("ForceSystemError must set MachineSystemError, got %v", m.CurrentState())
	}
}

func TestSafetyMachineEvaluate(t *testing.T) {
	m := NewSafetyMachine()

	if got := m.Evaluate(false, false); got != model.SafetySafe {
		t.Errorf("Evaluate(false,false) = %v, want Safe", got)
	}
	if got := m.Evaluate(false, true); got != model.SafetySafeReducedSpeed {
		t.Errorf("Evaluate(false,true) = %v, want SafeReducedSpeed", got)
	}
	if got := m.Evaluate(true, true); got != model.SafetySafetyStop {
		t.Errorf("Evaluate(true,true) = %v, want SafetyStop (critical takes priority)", got)
	}
	if got := m.Evaluate(true, false); got != model.SafetySafetyStop {
		t.Errorf("Evaluate(true,false) = %v, want SafetyStop", got)
	}
}
