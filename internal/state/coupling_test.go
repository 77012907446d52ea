package state

import (
	"testing"

	"evo-control-unit/internal/model"
)

func TestCouplingStateMachineSlaveSyncLifecycle(t *testing.T) {
	m := NewCouplingStateMachine(CouplingConfig{SyncTimeoutSec: 1}, 1000)

	if tr := m.HandleEvent(CouplingEvCoupleAsSlave, false); tr.Accepted {
		t.Error("coupling entry must require standstill")
	}
	if tr := m.HandleEvent(CouplingEvCoupleAsSlave, true); !tr.Accepted || m.CurrentState() != model.CouplingWaitingSync {
		t.Fatalf("CoupleAsSlave at standstill should enter WaitingSync, got %v", m.CurrentState())
	}
	if tr := m.HandleEvent(CouplingEvSyncAchieved, true); !tr.Accepted || m.CurrentState() != model.CouplingSlaveCoupled {
		t.Fatalf("SyncAchieved with zero offset should move to SlaveCoupled, got %v", m.CurrentState())
	}
	if tr := m.HandleEvent(CouplingEvSyncLost, true); !tr.Accepted || m.CurrentState() != model.CouplingSlaveSyncLost {
		t.Fatalf("SyncLost should move to SlaveSyncLost, got %v", m.CurrentState())
	}
	if tr := m.HandleEvent(CouplingEvResync, true); !tr.Accepted || m.CurrentState() != model.CouplingResyncing {
		t.Fatalf("Resync should move to Resyncing, got %v", m.CurrentState())
	}
	if tr := m.HandleEvent(CouplingEvDecouple, true); !tr.Accepted || m.CurrentState() != model.CouplingDecoupling {
		t.Fatalf("Decouple should move to Decoupling, got %v", m.CurrentState())
	}
	if tr := m.HandleEvent(CouplingEvDecoupleComplete, true); !tr.Accepted || m.CurrentState() != model.CouplingUncoupled {
		t.Fatalf("DecoupleComplete should return to Uncoupled, got %v", m.CurrentState())
	}
}

func TestCouplingStateMachineMasterFaultFromAnyState(t *testing.T) {
	m := NewCouplingStateMachine(CouplingConfig{}, 1000)
	m.HandleEvent(CouplingEvCoupleAsMaster, true)
	tr := m.HandleEvent(CouplingEvMasterFault, true)
	if !tr.Accepted || m.CurrentState() != model.CouplingMasterFault {
		t.Fatalf("MasterFault must be accepted from any state, got %v", m.CurrentState())
	}
}

func TestCouplingStateMachineSyncTimeout(t *testing.T) {
	// cycleTimeUs=1000 (1ms) and SyncTimeoutSec=0.002 -> 2 cycles.
	m := NewCouplingStateMachine(CouplingConfig{SyncTimeoutSec: 0.002}, 1000)
	m.HandleEvent(CouplingEvCoupleAsSlave, true)

	timedOut := false
	for i := 0; i < 5; i++ {
		if m.TickSyncTimeout() {
			timedOut = true
			break
		}
	}
	if !timedOut {
		t.Fatal("expected TickSyncTimeout to report true within a few cycles of a short timeout")
	}
}

func TestAllSlavesSynced(t *testing.T) {
	if AllSlavesSynced(nil) {
		t.Error("an empty slice must not report all-synced")
	}
	synced := []model.CouplingState{model.CouplingSlaveCoupled, model.CouplingSlaveModulated}
	if !AllSlavesSynced(synced) {
		t.Error("all-synced slice should report true regardless of coupled/modulated mix")
	}
	mixed := []model.CouplingState{model.CouplingSlaveCoupled, model.CouplingWaitingSync}
	if AllSlavesSynced(mixed) {
		t.Error("a non-synced slave should fail AllSlavesSynced")
	}
}

func TestCouplingStateMachineSyncAchievedModulatedOffset(t *testing.T) {
	m := NewCouplingStateMachine(CouplingConfig{IsModulated: true, Offset: 5}, 1000)
	m.HandleEvent(CouplingEvCoupleAsSlave, true)
	if tr := m.HandleEvent(CouplingEvSyncAchieved, true); !tr.Accepted || m.CurrentState() != model.CouplingSlaveModulated {
		t.Fatalf("SyncAchieved with a nonzero offset should move to SlaveModulated, got %v", m.CurrentState())
	}
}

func TestCalculateSlavePosition(t *testing.T) {
	if got := CalculateSlavePosition(100, 2, 5, false); got != 200 {
		t.Errorf("unmodulated: got %v, want 200", got)
	}
	if got := CalculateSlavePosition(100, 2, 5, true); got != 205 {
		t.Errorf("modulated: got %v, want 205", got)
	}
}

func TestCheckLagDifference(t *testing.T) {
	if CheckLagDifference(1.0, 1.05, 0.1) {
		t.Error("a 0.05 difference under a 0.1 threshold must not trigger")
	}
	if !CheckLagDifference(1.0, 2.0, 0.1) {
		t.Error("a 1.0 difference over a 0.1 threshold must trigger")
	}
}

func TestAxisCouplingRuntimeEvaluateCycle(t *testing.T) {
	machine := NewCouplingStateMachine(CouplingConfig{SyncTimeoutSec: 1000}, 1000)
	machine.HandleEvent(CouplingEvCoupleAsSlave, true)
	machine.HandleEvent(CouplingEvSyncAchieved, true)

	r := &AxisCouplingRuntime{
		Machine: machine,
		Config:  CouplingConfig{MaxLagDifference: 0.1},
	}
	masterLag := 0.0
	r.EvaluateCycle(&masterLag, 0.5)

	if r.Errors&model.CouplingErrLagDiffExceed == 0 {
		t.Error("expected CouplingErrLagDiffExceed after a large lag difference")
	}
	if machine.CurrentState() != model.CouplingSlaveSyncLost {
		t.Errorf("large lag difference should force sync-lost, got %v", machine.CurrentState())
	}
}

func TestProcessBottomUpSync(t *testing.T) {
	a := NewCouplingStateMachine(CouplingConfig{}, 1000)
	b := NewCouplingStateMachine(CouplingConfig{}, 1000)
	a.HandleEvent(CouplingEvCoupleAsSlave, true)
	b.HandleEvent(CouplingEvCoupleAsSlave, true)

	ProcessBottomUpSync([]*CouplingStateMachine{a, b}, []bool{true, false})

	if a.CurrentState() != model.CouplingSlaveCoupled {
		t.Errorf("axis with syncReady=true should advance to SlaveCoupled, got %v", a.CurrentState())
	}
	if b.CurrentState() != model.CouplingWaitingSync {
		t.Errorf("axis with syncReady=false should remain WaitingSync, got %v", b.CurrentState())
	}
}
