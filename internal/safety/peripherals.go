// Package safety implements the per-axis peripheral monitors (tailstock,
// locking pin, brake, guard), the safety-stop executor, and recovery
// sequencing (spec §4.E).
package safety

import (
	"evo-control-unit/internal/ioreg"
	"evo-control-unit/internal/model"
)

// TailstockType selects which DI combination a tailstock monitor requires
// to report "closed" (spec §4.E, edge case table).
type TailstockType int

const (
	TailstockNone TailstockType = iota
	TailstockStandard
	TailstockSliding
	TailstockCombined
	TailstockAuto
)

// TailstockMonitor evaluates the tailstock-closed condition for one axis.
type TailstockMonitor struct {
	Type TailstockType
	Axis uint8
}

// Evaluate reads the tailstock DIs and returns (closedOK, error bits to
// raise). TailstockNone always reports OK without reading I/O.
func (m TailstockMonitor) Evaluate(reg *ioreg.Registry, di [model.DiBankWords]uint64) (bool, model.PowerError) {
	if m.Type == TailstockNone {
		return true, 0
	}
	closed, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleTailClosed, m.Axis), di)
	open, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleTailOpen, m.Axis), di)
	clamp, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleTailClamp, m.Axis), di)

	if closed && open {
		return false, model.PowerErrDriveTailOpen
	}

	var ok bool
	switch m.Type {
	case TailstockStandard:
		ok = closed
	case TailstockSliding, TailstockAuto:
		ok = closed && clamp
	case TailstockCombined:
		ok = closed || clamp
	}
	if !ok {
		return false, model.PowerErrDriveTailOpen
	}
	return true, 0
}

// PinPosition is the decoded state of a three-sensor locking-pin monitor.
type PinPosition int

const (
	PinUnknown PinPosition = iota
	PinLocked
	PinMiddle
	PinFree
)

// LockPinMonitor evaluates the locking-pin position and retract/insert
// timeouts for one axis.
type LockPinMonitor struct {
	Axis           uint8
	TimeoutCycles  uint32
	retractCycles  uint32
	insertCycles   uint32
	retracting     bool
	inserting      bool
}

// StartRetract begins timing a retract (unlock) command.
func (m *LockPinMonitor) StartRetract() { m.retracting = true; m.retractCycles = 0 }

// StartInsert begins timing an insert (lock) command.
func (m *LockPinMonitor) StartInsert() { m.inserting = true; m.insertCycles = 0 }

// Reset clears any in-progress retract/insert timing.
func (m *LockPinMonitor) Reset() {
	m.retracting, m.inserting = false, false
	m.retractCycles, m.insertCycles = 0, 0
}

// Evaluate reads the three position DIs, decodes the pin position, and
// checks the motion-requires-free and locked-while-powered rules plus any
// in-progress retract/insert timeout.
func (m *LockPinMonitor) Evaluate(reg *ioreg.Registry, di [model.DiBankWords]uint64, poweredOn bool) (PinPosition, bool, model.PowerError) {
	locked, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleIndexLocked, m.Axis), di)
	middle, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleIndexMiddle, m.Axis), di)
	free, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleIndexFree, m.Axis), di)

	pos := PinUnknown
	switch {
	case locked && !middle && !free:
		pos = PinLocked
	case free && !locked && !middle:
		pos = PinFree
	case middle && !locked && !free:
		pos = PinMiddle
	}

	var errs model.PowerError
	if pos == PinLocked && poweredOn {
		errs |= model.PowerErrDriveLockPinLocked
	}

	if m.retracting {
		m.retractCycles++
		if pos == PinFree {
			m.retracting = false
		} else if m.retractCycles > m.TimeoutCycles {
			errs |= model.PowerErrLockPinTimeout
		}
	}
	if m.inserting {
		m.insertCycles++
		if pos == PinLocked {
			m.inserting = false
		} else if m.insertCycles > m.TimeoutCycles {
			errs |= model.PowerErrLockPinTimeout
		}
	}

	ok := pos == PinFree
	return pos, ok, errs
}

// BrakeCommand selects the brake actuation direction.
type BrakeCommand int

const (
	BrakeEngage BrakeCommand = iota
	BrakeRelease
)

// BrakeMonitor drives the brake DO and confirms state via DI, with
// per-direction timeouts.
type BrakeMonitor struct {
	Axis            uint8
	AlwaysFree      bool
	Inverted        bool
	ReleaseTimeout  uint32
	EngageTimeout   uint32

	command       BrakeCommand
	elapsedCycles uint32
}

// Command sets the requested brake direction, resetting the timeout timer
// on a direction change.
func (m *BrakeMonitor) Command(cmd BrakeCommand) {
	if cmd != m.command {
		m.elapsedCycles = 0
	}
	m.command = cmd
}

// Evaluate writes the commanded DO (inversion-adjusted) and checks the
// confirmation DI against the configured timeout for the current command
// direction. AlwaysFree short-circuits to OK without touching I/O.
func (m *BrakeMonitor) Evaluate(reg *ioreg.Registry, doBank *[model.DoBankWords]uint64, di [model.DiBankWords]uint64) (bool, model.PowerError) {
	if m.AlwaysFree {
		return true, 0
	}

	logicalRelease := m.command == BrakeRelease
	writeActive := logicalRelease
	if m.Inverted {
		writeActive = !writeActive
	}
	reg.WriteDO(ioreg.AxisRole(ioreg.RoleBrakeOut, m.Axis), doBank, writeActive)

	released, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleBrakeIn, m.Axis), di)
	m.elapsedCycles++

	switch m.command {
	case BrakeRelease:
		if released {
			return true, 0
		}
		if m.elapsedCycles > m.ReleaseTimeout {
			return false, model.PowerErrBrakeTimeout
		}
		return true, 0
	case BrakeEngage:
		if !released {
			return true, 0
		}
		if m.elapsedCycles > m.EngageTimeout {
			return false, model.PowerErrBrakeTimeout
		}
		return true, 0
	}
	return true, 0
}

// GuardMonitor enforces the interlock-guard speed/delay rule.
type GuardMonitor struct {
	Axis            uint8
	SecureSpeed     float64
	OpenDelayCycles uint32

	lowSpeedCycles uint32
}

// Evaluate reads the guard closed/locked DIs and compares actualVelocity
// against SecureSpeed: above the threshold the guard must be closed and
// locked; below it, opening is permitted only after OpenDelayCycles
// consecutive low-speed cycles.
func (m *GuardMonitor) Evaluate(reg *ioreg.Registry, di [model.DiBankWords]uint64, actualVelocity float64) (bool, model.PowerError) {
	closed, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleGuardClosed, m.Axis), di)
	locked, _ := reg.ReadDI(ioreg.AxisRole(ioreg.RoleGuardLocked, m.Axis), di)

	speed := actualVelocity
	if speed < 0 {
		speed = -speed
	}

	if speed > m.SecureSpeed {
		m.lowSpeedCycles = 0
		if closed && locked {
			return true, 0
		}
		// Guard violation above secure speed is reported via GuardOK alone;
		// no dedicated critical bitflag exists for this condition.
		return false, 0
	}

	m.lowSpeedCycles++
	if closed && locked {
		return true, 0
	}
	if m.lowSpeedCycles >= m.OpenDelayCycles {
		return true, 0
	}
	return false, 0
}

// PeripheralsEvaluation aggregates a cycle's per-axis peripheral check
// results.
type PeripheralsEvaluation struct {
	TailstockOK bool
	LockPinOK   bool
	BrakeOK     bool
	GuardOK     bool
	Errors      model.PowerError
}

// AllOK reports whether every peripheral monitor passed.
func (e PeripheralsEvaluation) AllOK() bool {
	return e.TailstockOK && e.LockPinOK && e.BrakeOK && e.GuardOK
}

// AxisPeripherals bundles the (optional) peripheral monitors configured for
// one axis.
type AxisPeripherals struct {
	Tailstock *TailstockMonitor
	LockPin   *LockPinMonitor
	Brake     *BrakeMonitor
	Guard     *GuardMonitor
}

// Evaluate runs every configured monitor in the fixed order tailstock,
// lock-pin, brake, guard, and aggregates the result. A nil monitor reports
// OK without side effects.
func (p *AxisPeripherals) Evaluate(reg *ioreg.Registry, di [model.DiBankWords]uint64, doBank *[model.DoBankWords]uint64, poweredOn bool, actualVelocity float64) PeripheralsEvaluation {
	eval := PeripheralsEvaluation{TailstockOK: true, LockPinOK: true, BrakeOK: true, GuardOK: true}

	if p.Tailstock != nil {
		ok, errs := p.Tailstock.Evaluate(reg, di)
		eval.TailstockOK = ok
		eval.Errors |= errs
	}
	if p.LockPin != nil {
		_, ok, errs := p.LockPin.Evaluate(reg, di, poweredOn)
		eval.LockPinOK = ok
		eval.Errors |= errs
	}
	if p.Brake != nil {
		ok, errs := p.Brake.Evaluate(reg, doBank, di)
		eval.BrakeOK = ok
		eval.Errors |= errs
	}
	if p.Guard != nil {
		ok, errs := p.Guard.Evaluate(reg, di, actualVelocity)
		eval.GuardOK = ok
		eval.Errors |= errs
	}
	return eval
}
