// Package command arbitrates recipe-executor and RPC command sources into
// a single per-axis intent, enforcing the source-lock rule (only the
// lock-holding source may issue motion/mode commands) and implementing
// hot-reload acceptance (spec §4.H).
package command

import (
	"evo-control-unit/internal/model"
)

// AxisCommand is the arbitrated, source-independent command intent applied
// to an axis this cycle.
type AxisCommand int

const (
	Nop AxisCommand = iota
	EnableAxis
	DisableAxis
	MoveAbsolute
	MoveRelative
	MoveVelocity
	Stop
	EmergencyStop
	Home
	SetMode
	Couple
	Decouple
	GearChange
	AllowManualMode
	JogPositive
	JogNegative
	JogStop
	ResetError
	SetMachineState
	AcquireLock
	ReleaseLock
	ReloadConfig
	NoBrakeEnter
	NoBrakeExit
)

// RequiresSourceLock reports whether cmd may only be issued by the source
// currently holding the axis's command lock.
func (c AxisCommand) RequiresSourceLock() bool {
	switch c {
	case MoveAbsolute, MoveRelative, MoveVelocity, Stop, Home, SetMode,
		Couple, Decouple, GearChange, JogPositive, JogNegative, JogStop,
		NoBrakeEnter, NoBrakeExit:
		return true
	default:
		return false
	}
}

// IsMotionCommand reports whether cmd commands axis motion.
func (c AxisCommand) IsMotionCommand() bool {
	switch c {
	case MoveAbsolute, MoveRelative, MoveVelocity, JogPositive, JogNegative:
		return true
	default:
		return false
	}
}

// CommandSource identifies who currently holds an axis's command lock.
type CommandSource uint8

const (
	SourceNone CommandSource = iota
	SourceRe
	SourceRpc
)

// DispatchRpcCommand maps a raw RPC command into the arbitrated AxisCommand
// space. EmergencyStop and global commands (SetMachineState, AcquireLock,
// ReleaseLock) bypass source-lock checks entirely; everything else is
// gated by the caller against RequiresSourceLock.
func DispatchRpcCommand(cmd model.RpcCommand) (AxisCommand, bool) {
	t, ok := model.RpcCommandTypeFromU8(uint8(cmd.CommandType))
	if !ok {
		return Nop, false
	}
	switch t {
	case model.RpcNop:
		return Nop, true
	case model.RpcJogPositive:
		return JogPositive, true
	case model.RpcJogNegative:
		return JogNegative, true
	case model.RpcJogStop:
		return JogStop, true
	case model.RpcMoveAbsolute:
		return MoveAbsolute, true
	case model.RpcEnableAxis:
		return EnableAxis, true
	case model.RpcDisableAxis:
		return DisableAxis, true
	case model.RpcHomeAxis:
		return Home, true
	case model.RpcResetError:
		return ResetError, true
	case model.RpcSetMachineState:
		return SetMachineState, true
	case model.RpcSetMode:
		return SetMode, true
	case model.RpcGearChange:
		return GearChange, true
	case model.RpcAcquireLock:
		return AcquireLock, true
	case model.RpcReleaseLock:
		return ReleaseLock, true
	case model.RpcAllowManualMode:
		return AllowManualMode, true
	case model.RpcReloadConfig:
		return ReloadConfig, true
	case model.RpcNoBrakeEnter:
		return NoBrakeEnter, true
	case model.RpcNoBrakeExit:
		return NoBrakeExit, true
	default:
		return Nop, false
	}
}

// DispatchReCommand maps a raw recipe-executor command into the arbitrated
// AxisCommand space.
func DispatchReCommand(t model.ReCommandType) (AxisCommand, bool) {
	switch t {
	case model.ReNop:
		return Nop, true
	case model.ReMoveAbsolute:
		return MoveAbsolute, true
	case model.ReMoveRelative:
		return MoveRelative, true
	case model.ReMoveVelocity:
		return MoveVelocity, true
	case model.ReHome:
		return Home, true
	case model.ReStop:
		return Stop, true
	case model.ReEmergencyStop:
		return EmergencyStop, true
	case model.ReEnableAxis:
		return EnableAxis, true
	case model.ReDisableAxis:
		return DisableAxis, true
	case model.ReSetMode:
		return SetMode, true
	case model.ReCouple:
		return Couple, true
	case model.ReDecouple:
		return Decouple, true
	case model.ReGearChange:
		return GearChange, true
	case model.ReAllowManualMode:
		return AllowManualMode, true
	default:
		return Nop, false
	}
}

// Lock tracks the source currently authorized to issue locked commands for
// one axis.
type Lock struct {
	Holder CommandSource
}

// Acquire grants the lock to source if it is currently free or already held
// by source.
func (l *Lock) Acquire(source CommandSource) bool {
	if l.Holder != SourceNone && l.Holder != source {
		return false
	}
	l.Holder = source
	return true
}

// Release frees the lock if held by source.
func (l *Lock) Release(source CommandSource) bool {
	if l.Holder != source {
		return false
	}
	l.Holder = SourceNone
	return true
}

// Authorize reports whether source may issue cmd given the current lock
// state.
func (l *Lock) Authorize(source CommandSource, cmd AxisCommand) (bool, model.CommandError) {
	if !cmd.RequiresSourceLock() {
		return true, 0
	}
	if l.Holder == SourceNone {
		return false, model.CommandErrSourceNotAuthorized
	}
	if l.Holder != source {
		return false, model.CommandErrSourceLocked
	}
	return true, 0
}
