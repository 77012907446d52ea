package cycle

import (
	"context"
	"log"
	"time"

	"golang.org/x/sys/unix"

	"evo-control-unit/internal/command"
	"evo-control-unit/internal/control"
	"evo-control-unit/internal/diag"
	"evo-control-unit/internal/ioreg"
	"evo-control-unit/internal/model"
	"evo-control-unit/internal/propagation"
	"evo-control-unit/internal/safety"
	"evo-control-unit/internal/shm"
	"evo-control-unit/internal/state"
)

// Config holds the runner's fixed parameters, set once at startup from the
// CLI/config layer.
type Config struct {
	CycleTimeNs int64
	MqtInterval uint32
	Cpu         int
	Priority    int
	Simulate    bool
}

// Segments bundles every SHM reader/writer the cycle body touches.
type Segments struct {
	HalIn  *shm.Reader[model.HalToCuSegment]
	ReIn   *shm.Reader[model.ReToCuSegment]
	RpcIn  *shm.Reader[model.RpcToCuSegment]
	HalOut *shm.Writer[model.CuToHalSegment]
	MqtOut *shm.Writer[model.CuToMqtSegment]
	ReOut  *shm.Writer[model.CuToReSegment]
}

// Runner owns the cycle loop: RT setup, the READ/PROCESS/WRITE pipeline,
// and overrun accounting.
type Runner struct {
	Config   Config
	Segments Segments
	State    *State
	Registry *ioreg.Registry
	Ring     *diag.Ring

	lastReSeq  uint32
	lastRpcSeq uint32
	cyclesSinceMqt uint32
	lastDi     [model.DiBankWords]uint64

	logger *log.Logger
}

// NewRunner wires a runner from its already-constructed dependencies.
func NewRunner(cfg Config, segs Segments, st *State, reg *ioreg.Registry, logger *log.Logger) *Runner {
	return &Runner{Config: cfg, Segments: segs, State: st, Registry: reg, logger: logger}
}

// Run performs RT environment setup and then dispatches to the hard
// real-time loop or the simulation loop depending on Config.Simulate.
func (r *Runner) Run(ctx context.Context) error {
	if err := SetupRT(r.Config.Cpu, r.Config.Priority, r.Config.Simulate); err != nil {
		return err
	}
	if r.Config.Simulate {
		return r.runSimLoop(ctx)
	}
	return r.runRTLoop(ctx)
}

// runRTLoop paces cycles on an absolute-time deadline; any overrun is a
// hard real-time failure and returns immediately.
func (r *Runner) runRTLoop(ctx context.Context) error {
	var next unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &next); err != nil {
		return ErrRtSetup("clock_gettime", err)
	}
	deadline := next.Nano() + r.Config.CycleTimeNs
	next = unix.NsecToTimespec(deadline)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &next, nil); err != nil && err != unix.EINTR {
			return ErrRtSetup("clock_nanosleep", err)
		}

		start := time.Now()
		r.cycleBody()
		actual := time.Since(start)

		overran := actual.Nanoseconds() > r.Config.CycleTimeNs
		r.State.Stats.Record(actual.Nanoseconds(), overran)
		if overran {
			return ErrCycleOverrun(actual.Nanoseconds(), r.Config.CycleTimeNs)
		}

		deadline += r.Config.CycleTimeNs
		next = unix.NsecToTimespec(deadline)
	}
}

// runSimLoop paces cycles with plain sleep; overruns are logged but do not
// stop the loop, matching --sim semantics used for development and tests.
func (r *Runner) runSimLoop(ctx context.Context) error {
	period := time.Duration(r.Config.CycleTimeNs)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			r.cycleBody()
			actual := time.Since(start)
			overran := actual.Nanoseconds() > r.Config.CycleTimeNs
			r.State.Stats.Record(actual.Nanoseconds(), overran)
			if overran && r.Ring != nil {
				r.Ring.Push("cycle overrun (sim mode, continuing)")
			}
		}
	}
}

// cycleBody runs one READ -> PROCESS -> WRITE pass over every axis.
func (r *Runner) cycleBody() {
	r.phaseRead()
	r.phaseProcess()
	r.phaseWrite()
}

// phaseRead pulls the mandatory HAL feedback segment and polls the
// optional recipe/RPC command segments via HasChanged before paying for a
// full Read.
func (r *Runner) phaseRead() {
	var hal model.HalToCuSegment
	if err := r.Segments.HalIn.Read(&hal); err != nil {
		if r.Ring != nil {
			r.Ring.Push("hal read failed: " + err.Error())
		}
		return
	}
	for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
		axis := r.State.Axes[i]
		fb := hal.Axes[i]
		axis.ActualPosition = fb.ActualPosition
		axis.ActualVelocity = fb.ActualVelocity
		axis.DriveStatus = fb.DriveStatus
		axis.FaultCode = fb.FaultCode
		axis.Referenced = fb.IsReferenced()
		if fb.IsFault() {
			axis.Errors.Power |= model.PowerErrDriveFault
		}
	}
	r.lastDi = hal.DiBank
	r.processIncomingCommands(hal.DiBank)
}

func (r *Runner) processIncomingCommands(di [model.DiBankWords]uint64) {
	if seq, changed := r.Segments.ReIn.HasChanged(r.lastReSeq); changed {
		var re model.ReToCuSegment
		if err := r.Segments.ReIn.Read(&re); err == nil {
			r.lastReSeq = seq
			r.applyReCommand(re.Command)
		}
	}
	if seq, changed := r.Segments.RpcIn.HasChanged(r.lastRpcSeq); changed {
		var rpc model.RpcToCuSegment
		if err := r.Segments.RpcIn.Read(&rpc); err == nil {
			r.lastRpcSeq = seq
			r.applyRpcCommand(rpc.Command)
		}
	}
}

func (r *Runner) applyReCommand(cmd model.ReCommand) {
	ac, ok := command.DispatchReCommand(cmd.CommandType)
	if !ok {
		return
	}
	for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
		if cmd.AxisMask&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		r.dispatchAxisCommand(r.State.Axes[i], command.SourceRe, ac, cmd.Targets[i])
	}
}

func (r *Runner) applyRpcCommand(cmd model.RpcCommand) {
	ac, ok := command.DispatchRpcCommand(cmd)
	if !ok {
		return
	}
	if cmd.AxisID == 0 {
		return // global commands (SetMachineState, AcquireLock scope) handled by a higher-level dispatcher
	}
	idx := int(cmd.AxisID) - 1
	if idx < 0 || idx >= r.State.AxisCount {
		return
	}
	target := model.ReAxisTarget{TargetPosition: cmd.ParamF64}
	r.dispatchAxisCommand(r.State.Axes[idx], command.SourceRpc, ac, target)
}

func (r *Runner) dispatchAxisCommand(axis *AxisRuntime, source command.CommandSource, ac command.AxisCommand, target model.ReAxisTarget) {
	if ok, errBit := axis.Lock.Authorize(source, ac); !ok {
		axis.Errors.Command |= errBit
		return
	}
	switch ac {
	case command.EnableAxis:
		axis.Power.HandleEvent(state.PowerEvEnable)
	case command.DisableAxis:
		axis.Power.HandleEvent(state.PowerEvDisable)
	case command.MoveAbsolute, command.MoveRelative, command.MoveVelocity:
		if reason, ok := state.CheckUnreferencedPolicy(axis.Referenced, axis.OperationalMode); !ok {
			_ = reason
			return
		}
		axis.TargetPosition = state.EnforceSoftLimits(target.TargetPosition, axis.MinPosition, axis.MaxPosition, axis.Referenced)
		vel := state.ClampUnreferencedVelocity(target.TargetVelocity, axis.MaxVelocity, axis.Referenced)
		axis.TargetVelocity = control.ApproachSpeedLimit(axis.ActualPosition, vel, axis.MinPosition, axis.MaxPosition, axis.MaxDeceleration)
		axis.Motion.HandleEvent(state.MotionEvStartMotion)
	case command.Home:
		axis.Homing.Step = state.HomingSeekReference
		axis.Homing.StepCycles = 0
		axis.Motion.HandleEvent(state.MotionEvStartHoming)
	case command.Stop:
		axis.Motion.HandleEvent(state.MotionEvStop)
	case command.EmergencyStop:
		axis.Motion.ForceEmergencyStop()
	case command.ResetError:
		axis.Errors.Clear()
		axis.Power.HandleEvent(state.PowerEvErrorReset)
		axis.Motion.HandleEvent(state.MotionEvErrorReset)
	case command.AcquireLock:
		axis.Lock.Acquire(source)
	case command.ReleaseLock:
		axis.Lock.Release(source)
	case command.NoBrakeEnter:
		if r.State.Machine.CurrentState() == model.MachineService {
			axis.Power.HandleEvent(state.PowerEvNoBrakeEnter)
		}
	case command.NoBrakeExit:
		axis.Power.HandleEvent(state.PowerEvNoBrakeExit)
	}
}

// phaseProcess runs peripheral/safety evaluation, state-machine ticks,
// control computation, lag evaluation, and error propagation, in that
// fixed order, then forces a global safety stop if any axis carries a
// critical bit.
func (r *Runner) phaseProcess() {
	errs := r.State.errScratch[:r.State.AxisCount]
	anyCritical := false

	for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
		axis := r.State.Axes[i]

		if r.Registry != nil {
			poweredOn := axis.Power.CurrentState() != model.PowerOff
			eval := axis.Peripherals.Evaluate(r.Registry, r.lastDi, &r.Segments.HalOut.Payload().DoBank, poweredOn, axis.ActualVelocity)
			axis.Errors.Power |= eval.Errors
			if !eval.AllOK() && axis.Power.CurrentState() == model.PowerMotion {
				axis.Power.ForceError()
			}
		}

		axis.Power.TickSequence()
		if axis.Power.StepTimedOut() {
			axis.Power.HandleEvent(state.PowerEvStepTimeout)
		}

		if axis.Power.CurrentState() == model.PowerMotion {
			in := control.Input{
				TargetPosition:     axis.TargetPosition,
				ActualPosition:     axis.ActualPosition,
				TargetVelocity:     axis.TargetVelocity,
				ActualVelocity:     axis.ActualVelocity,
				TargetAcceleration: axis.TargetAcceleration,
				Dt:                 float64(r.Config.CycleTimeNs) / 1e9,
			}
			axis.ControlOutput = control.ComputeOutput(&axis.Control, axis.Gains, in)

			lag := axis.TargetPosition - axis.ActualPosition
			if axis.LagThreshold > 0 && abs(lag) > axis.LagThreshold {
				axis.Errors.Motion |= model.MotionErrLagExceed
			}
		}

		if axis.Motion.CurrentState() == model.MotionHoming {
			r.tickHoming(axis)
		}

		if !axis.Referenced && !model.IsModeAllowedUnreferenced(axis.OperationalMode) {
			axis.Errors.Motion |= model.MotionErrNotReferenced
		}

		errs[i] = axis.Errors
		if axis.Errors.HasCritical() {
			anyCritical = true
		}
	}

	result := propagation.EvaluateErrors(r.State.AxisCount, errs, r.State.Topo)

	hasFault := r.State.faultScratch[:r.State.AxisCount]
	for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
		hasFault[i] = result.AxisHasCritical[i+1]
	}
	propagation.PropagateCouplingErrors(r.State.AxisCount, errs, r.State.Topo, hasFault)
	for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
		r.State.Axes[i].Errors = errs[i]
	}

	r.State.Safety.Evaluate(result.SafetyStopRequired, false)

	if r.State.Safety.CurrentState() == model.SafetySafetyStop {
		r.State.Machine.ForceSystemError()
		for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
			axis := r.State.Axes[i]
			if !result.AxisHasCritical[i+1] {
				continue
			}
			cat := safety.ResolveStopCategory(axis.Errors, axis.DefaultStopCategory)
			axis.StopExec.Trigger(cat, axis.ActualPosition)
			axis.Power.ForceError()
		}
	}

	_ = anyCritical
}

// tickHoming advances the reference-search sequence for one axis by one
// cycle: reference-edge detection, standstill detection, per-step timeout
// escalation to MotionErrHomingFailed, and completion back to Standstill
// with Referenced set. The position origin is not changed; the latched
// reference position is only kept in Homing.LatchedPos.
func (r *Runner) tickHoming(axis *AxisRuntime) {
	axis.Homing.Tick()

	if r.Registry != nil {
		if active, bound := r.Registry.ReadDI(ioreg.AxisRole(ioreg.RoleRef, axis.ID), r.lastDi); bound && active {
			axis.Homing.ReferenceEdgeDetected()
		}
	}
	if axis.Homing.Step == state.HomingDecelerate && abs(axis.ActualVelocity) < 1e-6 {
		axis.Homing.Standstill(axis.ActualPosition)
	}
	if axis.Homing.Step == state.HomingLatch || axis.Homing.Step == state.HomingZeroOrigin {
		axis.Homing.Advance()
	}

	if axis.Homing.TimedOut() {
		axis.Errors.Motion |= model.MotionErrHomingFailed
		axis.Motion.HandleEvent(state.MotionEvHomingFailed)
		return
	}
	if axis.Homing.Done() {
		axis.Referenced = true
		axis.Motion.HandleEvent(state.MotionEvHomingComplete)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// phaseWrite builds and commits the outbound HAL command segment, the
// throttled MQTT diagnostic segment, and the RE acknowledgement segment.
func (r *Runner) phaseWrite() {
	halOut := r.Segments.HalOut.Payload()
	halOut.AxisCount = uint8(r.State.AxisCount)
	for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
		axis := r.State.Axes[i]
		enabled := r.State.Machine.CurrentState() == model.MachineActive
		cmd := control.BuildAxisCommand(axis.Power.CurrentState(), axis.OperationalMode, axis.ControlOutput)
		if !enabled {
			cmd.Enable = 0
		}
		halOut.Axes[i] = cmd
	}
	r.Segments.HalOut.Commit()

	r.cyclesSinceMqt++
	if r.cyclesSinceMqt >= r.Config.MqtInterval {
		r.cyclesSinceMqt = 0
		mqtOut := r.Segments.MqtOut.Payload()
		mqtOut.MachineState = r.State.Machine.CurrentState()
		mqtOut.SafetyState = r.State.Safety.CurrentState()
		mqtOut.AxisCount = uint8(r.State.AxisCount)
		for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
			axis := r.State.Axes[i]
			mqtOut.Axes[i] = model.AxisStateSnapshot{
				AxisID:       axis.ID,
				Power:        axis.Power.CurrentState(),
				Motion:       axis.Motion.CurrentState(),
				Operational:  axis.OperationalMode,
				Coupling:     axis.Coupling.CurrentState(),
				Gearbox:      axis.Gearbox,
				Loading:      axis.Loading,
				LockedBy:     uint8(axis.Lock.Holder),
				ErrorPower:   axis.Errors.Power,
				ErrorMotion:  axis.Errors.Motion,
				ErrorCommand: axis.Errors.Command,
				ErrorGearbox: axis.Errors.Gearbox,
				ErrorCoupling: axis.Errors.Coupling,
				Position:     axis.ActualPosition,
				Velocity:     axis.ActualVelocity,
				Torque:       axis.ControlOutput.CalculatedTorque,
			}
		}
		r.Segments.MqtOut.Commit()
	}

	reOut := r.Segments.ReOut.Payload()
	reOut.LastAckSeqID = r.lastReSeq
	var inPos, inErr uint64
	for i := 0; i < r.State.AxisCount && i < model.MaxAxes; i++ {
		axis := r.State.Axes[i]
		if axis.Motion.CurrentState() == model.MotionStandstill {
			inPos |= uint64(1) << uint(i)
		}
		if axis.Errors.HasAnyError() {
			inErr |= uint64(1) << uint(i)
		}
	}
	reOut.AxesInPosition = inPos
	reOut.AxesInError = inErr
	r.Segments.ReOut.Commit()
}
