package cycle

import (
	"evo-control-unit/internal/command"
	"evo-control-unit/internal/control"
	"evo-control-unit/internal/evoconfig"
	"evo-control-unit/internal/model"
	"evo-control-unit/internal/propagation"
	"evo-control-unit/internal/safety"
	"evo-control-unit/internal/state"
)

// AxisRuntime bundles every piece of per-axis mutable state the cycle body
// touches each cycle: the power/motion/coupling state machines and homing
// sequence, the scalar gearbox/loading/mode fields, accumulated error
// bitflags, feedback/command scalars, peripheral monitors, control engine
// state, and the command lock.
type AxisRuntime struct {
	ID uint8

	Power    *state.PowerMachine
	Motion   *state.MotionMachine
	Coupling *state.CouplingStateMachine
	Homing   *state.HomingSequence

	OperationalMode model.OperationalMode
	Gearbox         model.GearboxState
	Loading         model.LoadingState

	Errors model.AxisErrorState

	ActualPosition float64
	ActualVelocity float64
	Referenced     bool

	TargetPosition     float64
	TargetVelocity     float64
	TargetAcceleration float64
	MaxVelocity        float64
	MinPosition        float64
	MaxPosition        float64
	MaxDeceleration    float64
	LagThreshold       float64

	Peripherals safety.AxisPeripherals
	StopExec    safety.SafeStopExecutor
	Recovery    safety.RecoveryManager
	CouplingRun state.AxisCouplingRuntime
	DefaultStopCategory model.SafeStopCategory

	Control control.AxisControlState
	Gains   control.AxisGains

	Lock command.Lock

	ControlOutput model.ControlOutputVector
	DriveStatus   uint8
	FaultCode     uint16
}

// defaultHomingStepTimeoutCycles bounds each homing-sequence step when the
// config layer does not carry a per-step override (spec's homing section
// leaves per-step timeouts as an implementation default).
const defaultHomingStepTimeoutCycles = 50_000

// State is the full cycle runtime: every axis plus the two global
// machines, cycle statistics, and the staged outbound segment payloads.
type State struct {
	Axes      [model.MaxAxes]*AxisRuntime
	AxisCount int

	Machine *state.MachineMachine
	Safety  *state.SafetyMachine
	Topo    propagation.CouplingTopology

	Stats Stats

	// errScratch/faultScratch are fixed-size per-cycle working storage for
	// phaseProcess's error-propagation pass, reused every cycle so the 1ms
	// real-time budget carries zero in-loop heap allocation.
	errScratch   [model.MaxAxes]model.AxisErrorState
	faultScratch [model.MaxAxes]bool
}

// NewState builds a zeroed runtime for axisCount axes (1..MaxAxes), each
// with default-configured state machines. Callers that have a loaded
// MachineConfig should use NewStateFromConfig instead so per-axis gains,
// limits, and coupling parameters are wired in.
func NewState(axisCount int) *State {
	s := &State{
		AxisCount: axisCount,
		Machine:   state.NewMachineMachine(),
		Safety:    state.NewSafetyMachine(),
	}
	for i := 0; i < axisCount && i < model.MaxAxes; i++ {
		s.Axes[i] = &AxisRuntime{
			ID:       uint8(i + 1),
			Power:    state.NewPowerMachine(state.PowerConfig{}),
			Motion:   state.NewMotionMachine(),
			Coupling: state.NewCouplingStateMachine(state.CouplingConfig{}, 1000),
		}
	}
	return s
}

// NewStateFromConfig builds the full runtime from a loaded machine config:
// each axis's control gains, motion limits, coupling parameters, default
// stop category, and coupling topology are wired from mc.Axes, and the
// filter chain is initialized so the first cycle's control computation has
// valid filter state.
func NewStateFromConfig(mc evoconfig.MachineConfig) *State {
	s := &State{
		AxisCount: len(mc.Axes),
		Machine:   state.NewMachineMachine(),
		Safety:    state.NewSafetyMachine(),
	}
	masterOf := make(map[uint8]uint8, len(mc.Axes))
	for _, ac := range mc.Axes {
		if ac.CoupledToMaster != 0 {
			masterOf[ac.ID] = ac.CoupledToMaster
		}
	}

	for i, ac := range mc.Axes {
		if i >= model.MaxAxes {
			break
		}
		gains := control.AxisGains{
			Pid: control.PidGains{Kp: ac.Kp, Ki: ac.Ki, Kd: ac.Kd, Tf: ac.Tf, Tt: ac.Tt, OutMax: ac.OutMax},
			Ff:  control.FeedforwardGains{Kvff: ac.Kvff, Kaff: ac.Kaff, Friction: ac.Friction},
			Dob: control.DobGains{Jn: ac.Jn, Bn: ac.Bn, Gdob: ac.Gdob},

			FNotch:     ac.FNotch,
			BwNotch:    ac.BwNotch,
			Flp:        ac.Flp,
			SampleRate: 1_000_000.0 / float64(mc.CycleTimeUs),
			OutMax:     ac.OutMax,
		}
		axis := &AxisRuntime{
			ID:     ac.ID,
			Power:  state.NewPowerMachine(state.PowerConfig{}),
			Motion: state.NewMotionMachine(),
			Homing: state.NewHomingSequence(ac.MaxVelocity*0.1, [5]uint32{defaultHomingStepTimeoutCycles, defaultHomingStepTimeoutCycles, defaultHomingStepTimeoutCycles, defaultHomingStepTimeoutCycles, defaultHomingStepTimeoutCycles}),
			Coupling: state.NewCouplingStateMachine(state.CouplingConfig{
				Ratio:            ac.CouplingRatio,
				Offset:           ac.CouplingOffset,
				IsModulated:      ac.IsModulated,
				SyncTimeoutSec:   ac.SyncTimeoutSec,
				MaxLagDifference: ac.MaxLagDiff,
				LagPolicy:        ac.LagPolicy,
			}, mc.CycleTimeUs),

			MaxVelocity:         ac.MaxVelocity,
			MinPosition:         ac.MinPosition,
			MaxPosition:         ac.MaxPosition,
			MaxDeceleration:     ac.MaxDeceleration,
			LagThreshold:        ac.MaxLagDiff,
			DefaultStopCategory: ac.DefaultStopCategory,

			Gains: gains,
		}
		axis.Control.InitFilters(gains)
		s.Axes[i] = axis
	}

	s.Topo = propagation.NewCouplingTopology(masterOf)
	return s
}
