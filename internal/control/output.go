package control

import (
	"math"

	"evo-control-unit/internal/model"
)

// AxisGains bundles every tunable parameter set for one axis's control
// loop. These are the reloadable parameters named in the hot-reload scope
// rules (structural parameters — axis count, IDs, coupling topology — are
// not reloadable and live in the config layer instead).
type AxisGains struct {
	Pid PidGains
	Ff  FeedforwardGains
	Dob DobGains

	FNotch     float64
	BwNotch    float64
	Flp        float64
	SampleRate float64
	OutMax     float64
}

// AxisControlState is the per-axis runtime memory for the control engine:
// PID/DOB state plus the filter chain and the last torque applied (fed
// back into the disturbance observer next cycle).
type AxisControlState struct {
	Pid               PidState
	Dob               DobState
	Filters           FilterChainState
	PrevAppliedTorque float64
	filtersInitialized bool
}

// InitFilters (re)initializes the filter chain for the given gains; callers
// invoke this once at startup and again after any hot-reload that changes
// FNotch/BwNotch/SampleRate.
func (s *AxisControlState) InitFilters(g AxisGains) {
	s.Filters.Init(g.FNotch, g.BwNotch, g.SampleRate)
	s.filtersInitialized = true
}

// Reset clears PID, DOB, and filter memory. Required on axis disable and on
// operational-mode change (I-PW-4/I-OM-4) so a stale integrator or filter
// state cannot bump the axis on re-enable.
func (s *AxisControlState) Reset() {
	s.Pid.Reset()
	s.Dob = DobState{}
	s.Filters.Reset()
	s.PrevAppliedTorque = 0
}

// Input is the per-cycle input to the control engine for one axis.
type Input struct {
	TargetPosition     float64
	ActualPosition     float64
	TargetVelocity     float64
	ActualVelocity     float64
	TargetAcceleration float64
	Dt                 float64
}

// ComputeOutput runs the full per-cycle pipeline: PID -> feedforward -> DOB
// subtraction -> notch -> low-pass -> saturation, and stores the result as
// next cycle's prevAppliedTorque for the observer.
func ComputeOutput(s *AxisControlState, g AxisGains, in Input) model.ControlOutputVector {
	if !s.filtersInitialized {
		s.InitFilters(g)
	}

	errorVal := in.TargetPosition - in.ActualPosition
	pidOut := PidCompute(&s.Pid, g.Pid, errorVal, in.Dt)
	ffOut := FeedforwardCompute(g.Ff, in.TargetVelocity, in.TargetAcceleration)
	dobOut := DobCompute(&s.Dob, g.Dob, in.ActualVelocity, s.PrevAppliedTorque, in.Dt)

	raw := pidOut + ffOut + dobOut
	filtered := s.Filters.Apply(raw, g.Flp, in.Dt)
	clamped := clamp(filtered, g.OutMax)

	s.PrevAppliedTorque = clamped

	return model.ControlOutputVector{
		CalculatedTorque: clamped,
		TargetVelocity:   in.TargetVelocity,
		TargetPosition:   in.TargetPosition,
		TorqueOffset:     TorqueOffsetCompute(g.Ff.Kaff, in.TargetAcceleration, dobOut),
	}
}

// BuildAxisCommand derives the HAL-facing enable bit from the axis's power
// state: enabled while Standby, Motion, or mid PoweringOn sequence.
func BuildAxisCommand(power model.PowerState, mode model.OperationalMode, out model.ControlOutputVector) model.CuAxisCommand {
	enable := uint8(0)
	switch power {
	case model.PowerStandby, model.PowerMotion, model.PoweringOn:
		enable = 1
	}
	return model.CuAxisCommand{Output: out, Enable: enable, Mode: mode}
}

// ApproachSpeedLimit bounds a velocity command so the axis can decelerate
// to zero before reaching minPos/maxPos at maxDecel (FR-112). Returns zero
// once the axis is at or beyond the limit.
func ApproachSpeedLimit(position, velocityCmd, minPos, maxPos, maxDecel float64) float64 {
	var distance float64
	if velocityCmd >= 0 {
		distance = maxPos - position
	} else {
		distance = position - minPos
	}
	if distance <= 0 {
		return 0
	}
	if maxDecel <= 0 {
		return velocityCmd
	}
	vSafe := math.Sqrt(2 * maxDecel * distance)
	if math.Abs(velocityCmd) > vSafe {
		if velocityCmd < 0 {
			return -vSafe
		}
		return vSafe
	}
	return velocityCmd
}
