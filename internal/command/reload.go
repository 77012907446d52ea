package command

import (
	"fmt"

	"evo-control-unit/internal/evoconfig"
	"evo-control-unit/internal/ioreg"
	"evo-control-unit/internal/model"
)

// ReloadOutcome is the result of a hot-reload attempt.
type ReloadOutcome struct {
	Status ReloadStatus
	Reason string
}

// ReloadStatus discriminates the three possible reload outcomes.
type ReloadStatus int

const (
	Accepted ReloadStatus = iota
	Denied
	Failed
)

// HandleReloadConfig implements the hot-reload rules: accepted only while
// SafetyState is SafetyStop (FR-145); on acceptance, parses and revalidates
// the shadow configuration and enforces reload scope (axis count, axis
// IDs, and coupling topology are structural and non-reloadable); on any
// failure the active configuration is left untouched.
func HandleReloadConfig(
	safetyState model.SafetyState,
	active evoconfig.MachineConfig,
	machineToml, ioToml string,
) (ReloadOutcome, *evoconfig.MachineConfig, *ioreg.Registry) {
	if safetyState != model.SafetySafetyStop {
		return ReloadOutcome{Status: Denied, Reason: "reload only accepted while SafetyState is SafetyStop"}, nil, nil
	}

	shadowMachine, err := evoconfig.LoadMachineConfig(machineToml)
	if err != nil {
		return ReloadOutcome{Status: Failed, Reason: fmt.Sprintf("parse machine config: %v", err)}, nil, nil
	}
	shadowIo, err := evoconfig.LoadIoConfig(ioToml)
	if err != nil {
		return ReloadOutcome{Status: Failed, Reason: fmt.Sprintf("parse io config: %v", err)}, nil, nil
	}

	reg, err := evoconfig.Validate(shadowMachine, shadowIo)
	if err != nil {
		return ReloadOutcome{Status: Failed, Reason: err.Error()}, nil, nil
	}

	if err := checkReloadScope(active, shadowMachine); err != nil {
		return ReloadOutcome{Status: Failed, Reason: err.Error()}, nil, nil
	}

	return ReloadOutcome{Status: Accepted}, &shadowMachine, reg
}

// checkReloadScope enforces that axis count, axis IDs, and coupling
// topology are unchanged between the active and shadow configurations.
// Control, PID, feedforward, and peripheral-timing parameters may differ
// freely.
func checkReloadScope(active, shadow evoconfig.MachineConfig) error {
	if len(active.Axes) != len(shadow.Axes) {
		return fmt.Errorf("reload: axis count changed (%d -> %d)", len(active.Axes), len(shadow.Axes))
	}
	activeByID := make(map[uint8]evoconfig.AxisConfig, len(active.Axes))
	for _, a := range active.Axes {
		activeByID[a.ID] = a
	}
	for _, s := range shadow.Axes {
		a, ok := activeByID[s.ID]
		if !ok {
			return fmt.Errorf("reload: axis ID %d not present in active configuration", s.ID)
		}
		if a.CoupledToMaster != s.CoupledToMaster {
			return fmt.Errorf("reload: axis %d coupling topology changed", s.ID)
		}
	}
	return nil
}
