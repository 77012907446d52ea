// Package evoconfig loads and validates the machine, I/O, and watchdog
// TOML configuration documents (spec §6.5) and implements the hot-reload
// shadow-pipeline validation (spec's hot-reload section, §4.H.3).
package evoconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"evo-control-unit/internal/ioreg"
	"evo-control-unit/internal/model"
)

// AxisConfig is one axis's static and reloadable configuration.
type AxisConfig struct {
	ID              uint8   `toml:"id"`
	HasBrake        bool    `toml:"has_brake"`
	HasLockPin      bool    `toml:"has_lock_pin"`
	IsGravity       bool    `toml:"is_gravity"`
	MaxVelocity     float64 `toml:"max_velocity"`
	MaxAcceleration float64 `toml:"max_acceleration"`
	MaxDeceleration float64 `toml:"max_deceleration"`
	MinPosition     float64 `toml:"min_position"`
	MaxPosition     float64 `toml:"max_position"`

	Kp, Ki, Kd, Tf, Tt, OutMax float64
	Kvff, Kaff, Friction       float64
	Jn, Bn, Gdob               float64
	FNotch, BwNotch, Flp       float64

	CoupledToMaster uint8            `toml:"coupled_to_master"`
	CouplingRatio   float64          `toml:"coupling_ratio"`
	CouplingOffset  float64          `toml:"coupling_offset"`
	IsModulated     bool             `toml:"is_modulated"`
	SyncTimeoutSec  float64          `toml:"sync_timeout_sec"`
	MaxLagDiff      float64          `toml:"max_lag_diff"`
	LagPolicy       model.LagPolicy  `toml:"lag_policy"`

	DefaultStopCategory model.SafeStopCategory `toml:"default_stop_category"`
}

// MachineConfig is the root machine-config document (FR §6.5).
type MachineConfig struct {
	CycleTimeUs uint32       `toml:"cycle_time_us"`
	MqtInterval uint32       `toml:"mqt_interval_cycles"`
	Axes        []AxisConfig `toml:"axis"`
}

// IoConfig is the root I/O-config document: role -> pin bindings (§6.4).
type IoConfig struct {
	Bindings []ioreg.Binding `toml:"binding"`
}

// WatchdogConfig is the root watchdog-config document.
type WatchdogConfig struct {
	StaleThresholdCycles int     `toml:"stale_threshold_cycles"`
	SyncTimeoutSec       float64 `toml:"sync_timeout_sec"`
}

// LoadMachineConfig decodes a machine-config TOML document.
func LoadMachineConfig(data string) (MachineConfig, error) {
	var cfg MachineConfig
	_, err := toml.Decode(data, &cfg)
	return cfg, err
}

// LoadIoConfig decodes an I/O-config TOML document.
func LoadIoConfig(data string) (IoConfig, error) {
	var cfg IoConfig
	_, err := toml.Decode(data, &cfg)
	return cfg, err
}

// LoadWatchdogConfig decodes a watchdog-config TOML document.
func LoadWatchdogConfig(data string) (WatchdogConfig, error) {
	var cfg WatchdogConfig
	_, err := toml.Decode(data, &cfg)
	return cfg, err
}

// Validate runs the startup invariant checks named in spec §4.H.3: axis-ID
// uniqueness, coupling acyclicity, required I/O-role completeness per axis
// peripherals, global EStop presence (delegated to ioreg.NewRegistry), and
// parameter bounds.
func Validate(mc MachineConfig, ic IoConfig) (*ioreg.Registry, error) {
	seen := make(map[uint8]bool, len(mc.Axes))
	for _, a := range mc.Axes {
		if seen[a.ID] {
			return nil, fmt.Errorf("evoconfig: duplicate axis ID %d", a.ID)
		}
		seen[a.ID] = true
		if a.MinPosition >= a.MaxPosition {
			return nil, fmt.Errorf("evoconfig: axis %d min_position >= max_position", a.ID)
		}
	}

	if err := checkCouplingAcyclic(mc.Axes); err != nil {
		return nil, err
	}

	reg, err := ioreg.NewRegistry(ic.Bindings)
	if err != nil {
		return nil, fmt.Errorf("evoconfig: %w", err)
	}

	for _, a := range mc.Axes {
		required := []string{
			ioreg.AxisRole(ioreg.RoleLimitMin, a.ID),
			ioreg.AxisRole(ioreg.RoleLimitMax, a.ID),
			ioreg.AxisRole(ioreg.RoleRef, a.ID),
			ioreg.AxisRole(ioreg.RoleEnable, a.ID),
		}
		if a.HasBrake {
			required = append(required, ioreg.AxisRole(ioreg.RoleBrakeIn, a.ID), ioreg.AxisRole(ioreg.RoleBrakeOut, a.ID))
		}
		if a.HasLockPin {
			required = append(required, ioreg.AxisRole(ioreg.RoleIndexLocked, a.ID), ioreg.AxisRole(ioreg.RoleIndexFree, a.ID))
		}
		if err := reg.RequireRoles(required...); err != nil {
			return nil, fmt.Errorf("evoconfig: axis %d: %w", a.ID, err)
		}
	}

	return reg, nil
}

func checkCouplingAcyclic(axes []AxisConfig) error {
	masterOf := make(map[uint8]uint8, len(axes))
	for _, a := range axes {
		if a.CoupledToMaster != 0 {
			masterOf[a.ID] = a.CoupledToMaster
		}
	}
	for start := range masterOf {
		visited := make(map[uint8]bool)
		cur := start
		for {
			master, ok := masterOf[cur]
			if !ok {
				break
			}
			if visited[master] {
				return fmt.Errorf("evoconfig: coupling cycle detected involving axis %d", start)
			}
			visited[master] = true
			cur = master
		}
	}
	return nil
}
