// Package model defines the shared data types for the EVO control unit:
// module identities, state-machine discriminants, error bitflags, and the
// SHM payload records exchanged with HAL, the recipe executor, and the RPC
// bridge.
package model

import "fmt"

// ModuleAbbrev identifies a process endpoint on the SHM transport. It is the
// concrete encoding behind a segment header's source_module/dest_module
// bytes.
type ModuleAbbrev uint8

const (
	ModuleCu  ModuleAbbrev = 0
	ModuleHal ModuleAbbrev = 1
	ModuleRe  ModuleAbbrev = 2
	ModuleMqt ModuleAbbrev = 3
	ModuleRpc ModuleAbbrev = 4
)

func (m ModuleAbbrev) String() string {
	switch m {
	case ModuleCu:
		return "cu"
	case ModuleHal:
		return "hal"
	case ModuleRe:
		return "re"
	case ModuleMqt:
		return "mqt"
	case ModuleRpc:
		return "rpc"
	default:
		return fmt.Sprintf("module(%d)", uint8(m))
	}
}

// ModuleAbbrevFromByte decodes a raw header byte, rejecting unknown values.
func ModuleAbbrevFromByte(b uint8) (ModuleAbbrev, bool) {
	switch ModuleAbbrev(b) {
	case ModuleCu, ModuleHal, ModuleRe, ModuleMqt, ModuleRpc:
		return ModuleAbbrev(b), true
	default:
		return 0, false
	}
}
