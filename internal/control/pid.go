// Package control implements the per-axis control engine: PID position
// control with anti-windup, velocity/acceleration feedforward, a
// disturbance observer, and the notch/low-pass filter chain that produces
// the final torque command (spec §4.D).
package control

// PidGains holds the tunable PID parameters for one axis. OutMax bounds the
// PID term itself for anti-windup back-calculation; the final torque output
// is clamped again after feedforward/DOB/filtering (see ComputeOutput).
type PidGains struct {
	Kp     float64
	Ki     float64
	Kd     float64
	Tf     float64 // derivative filter time constant
	Tt     float64 // anti-windup back-calculation time constant
	OutMax float64
}

// PidState carries the integrator and filtered-derivative memory between
// cycles.
type PidState struct {
	Integral     float64
	PrevError    float64
	PrevDFiltered float64
}

// Reset zeroes all integrator/derivative memory (I-PW-4/I-OM-4: cleared on
// disable or operational-mode change).
func (s *PidState) Reset() {
	s.Integral = 0
	s.PrevError = 0
	s.PrevDFiltered = 0
}

// PidCompute advances the PID loop by one cycle of length dt and returns the
// saturated control term. error is target_position - actual_position.
func PidCompute(s *PidState, g PidGains, errorVal, dt float64) float64 {
	p := g.Kp * errorVal

	s.Integral += g.Ki * errorVal * dt

	dRaw := 0.0
	if dt > 0 {
		dRaw = (errorVal - s.PrevError) / dt
	}
	alpha := 1.0
	if g.Tf > 0 && dt > 0 {
		alpha = dt / (g.Tf + dt)
	}
	dFiltered := s.PrevDFiltered + alpha*(dRaw-s.PrevDFiltered)
	d := g.Kd * dFiltered

	raw := p + s.Integral + d
	out := clamp(raw, g.OutMax)

	if g.Tt > 0 {
		s.Integral += (out - raw) * dt / g.Tt
	}

	s.PrevError = errorVal
	s.PrevDFiltered = dFiltered
	return out
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
