package control

import (
	"testing"

	"evo-control-unit/internal/model"
)

func TestComputeOutputSaturatesAtOutMax(t *testing.T) {
	s := &AxisControlState{}
	g := AxisGains{
		Pid:        PidGains{Kp: 1000},
		SampleRate: 1000,
		OutMax:     10,
	}
	out := ComputeOutput(s, g, Input{TargetPosition: 100, ActualPosition: 0, Dt: 0.001})
	if out.CalculatedTorque != g.OutMax {
		t.Errorf("expected clamp to OutMax %v, got %v", g.OutMax, out.CalculatedTorque)
	}
	if s.PrevAppliedTorque != out.CalculatedTorque {
		t.Error("PrevAppliedTorque must track the clamped output for the next cycle's DOB input")
	}
}

func TestComputeOutputLazyInitializesFilters(t *testing.T) {
	s := &AxisControlState{}
	g := AxisGains{SampleRate: 1000, OutMax: 100}
	if s.filtersInitialized {
		t.Fatal("filtersInitialized should start false")
	}
	ComputeOutput(s, g, Input{Dt: 0.001})
	if !s.filtersInitialized {
		t.Error("ComputeOutput must lazily initialize the filter chain")
	}
}

func TestComputeOutputPassesThroughTargets(t *testing.T) {
	s := &AxisControlState{}
	g := AxisGains{SampleRate: 1000, OutMax: 0}
	in := Input{TargetPosition: 3, TargetVelocity: 7, Dt: 0.001}
	out := ComputeOutput(s, g, in)
	if out.TargetPosition != 3 || out.TargetVelocity != 7 {
		t.Errorf("ComputeOutput must echo the commanded targets unchanged, got %+v", out)
	}
}

func TestAxisControlStateReset(t *testing.T) {
	s := &AxisControlState{}
	g := AxisGains{Pid: PidGains{Ki: 1}, SampleRate: 1000, OutMax: 1000}
	ComputeOutput(s, g, Input{TargetPosition: 1, Dt: 0.01})
	s.Reset()
	if s.Pid.Integral != 0 || s.Dob != (DobState{}) || s.PrevAppliedTorque != 0 {
		t.Errorf("Reset must clear PID/DOB/prev-torque memory, got %+v", s)
	}
}

func TestBuildAxisCommandEnableGating(t *testing.T) {
	cases := []struct {
		power model.PowerState
		want  uint8
	}{
		{model.PowerStandby, 1},
		{model.PowerMotion, 1},
		{model.PoweringOn, 1},
		{model.PowerOff, 0},
		{model.PowerFault, 0},
		{model.PoweringOff, 0},
	}
	for _, c := range cases {
		cmd := BuildAxisCommand(c.power, model.ModeManual, model.ControlOutputVector{})
		if cmd.Enable != c.want {
			t.Errorf("power=%v: Enable = %v, want %v", c.power, cmd.Enable, c.want)
		}
	}
}

func TestApproachSpeedLimitAtBoundaryIsZero(t *testing.T) {
	got := ApproachSpeedLimit(10, 5, 0, 10, 1)
	if got != 0 {
		t.Errorf("at the boundary, commanded velocity must clamp to 0, got %v", got)
	}
}

func TestApproachSpeedLimitUnconstrainedBelowCurve(t *testing.T) {
	got := ApproachSpeedLimit(0, 1, 0, 1000, 1)
	if got != 1 {
		t.Errorf("small velocity far from the limit should pass through unchanged, got %v", got)
	}
}

func TestApproachSpeedLimitClampsNegativeVelocity(t *testing.T) {
	got := ApproachSpeedLimit(1, -100, 0, 10, 1)
	if got >= 0 {
		t.Errorf("approaching minPos with negative velocity must stay negative, got %v", got)
	}
}

func TestApproachSpeedLimitZeroMaxDecelPassesThrough(t *testing.T) {
	got := ApproachSpeedLimit(5, 3, 0, 10, 0)
	if got != 3 {
		t.Errorf("maxDecel<=0 must pass the command through unclamped, got %v", got)
	}
}
