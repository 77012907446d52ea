package control

import "testing"

func TestDobComputeSteadyStateZeroDisturbance(t *testing.T) {
	// Constant velocity, applied torque exactly matching the nominal viscous
	// model each cycle: the observer's estimate should settle near zero.
	s := &DobState{}
	g := DobGains{Jn: 1, Bn: 2, Gdob: 0.5}
	var out float64
	for i := 0; i < 50; i++ {
		out = DobCompute(s, g, 3.0, 2*3.0, 0.01)
	}
	if out > 0.05 || out < -0.05 {
		t.Errorf("expected DOB correction to settle near zero under a matched model, got %v", out)
	}
}

func TestDobComputeDetectsDisturbance(t *testing.T) {
	s := &DobState{}
	g := DobGains{Jn: 1, Bn: 2, Gdob: 0.5}
	var out float64
	// Applied torque is consistently higher than the nominal model predicts:
	// an external disturbance is absorbing the difference.
	for i := 0; i < 50; i++ {
		out = DobCompute(s, g, 3.0, 2*3.0+5.0, 0.01)
	}
	if out >= 0 {
		t.Errorf("expected a negative correction opposing a positive unmodeled disturbance, got %v", out)
	}
}

func TestDobComputeZeroDtIsSafe(t *testing.T) {
	s := &DobState{}
	g := DobGains{Jn: 1, Bn: 1, Gdob: 0.5}
	out := DobCompute(s, g, 1.0, 1.0, 0)
	if out != out { // NaN check
		t.Error("DobCompute with dt=0 produced NaN")
	}
}
