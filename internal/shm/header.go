// Package shm implements the lock-free, single-writer/multi-reader
// shared-memory transport used for every inter-process link in the EVO
// control unit (HAL, recipe executor, MQTT bridge, RPC bridge). Segments
// live at /dev/shm/evo_<name> with a companion evo_<name>.lock file used purely
// to detect writer liveness via flock.
package shm

import (
	"encoding/binary"
	"reflect"
	"unsafe"

	"evo-control-unit/internal/model"
)

// headerMagic identifies a valid EVO P2P segment header: ASCII "EVO_P2P"
// followed by a single trailing NUL.
var headerMagic = [8]byte{'E', 'V', 'O', '_', 'P', '2', 'P', 0}

// HeaderSize is the fixed, cache-line-aligned size of every segment header.
const HeaderSize = 64

// PageSize is the mmap granularity every segment is rounded up to.
const PageSize = 4096

// Header is the 64-byte control block prefixing every SHM segment.
//
// Layout (byte offsets, little-endian):
//
//	0  magic[8]
//	8  version_hash u32
//	16 heartbeat u64
//	24 source_module u8
//	25 dest_module u8
//	28 payload_size u32
//	32 write_seq u32
//	36 padding[28]
type Header struct {
	Magic        [8]byte
	VersionHash  uint32
	Heartbeat    uint64
	SourceModule model.ModuleAbbrev
	DestModule   model.ModuleAbbrev
	PayloadSize  uint32
	WriteSeq     uint32
}

// NewHeader builds a header in its initial (write_seq = 0, heartbeat = 0)
// state for the given endpoints and payload type.
func NewHeader(src, dst model.ModuleAbbrev, payloadSize uint32) Header {
	return Header{
		Magic:        headerMagic,
		VersionHash:  0,
		Heartbeat:    0,
		SourceModule: src,
		DestModule:   dst,
		PayloadSize:  payloadSize,
		WriteSeq:     0,
	}
}

// encode writes the header into the first HeaderSize bytes of buf.
func (h Header) encode(buf []byte) {
	_ = buf[:HeaderSize]
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.VersionHash)
	binary.LittleEndian.PutUint64(buf[16:24], h.Heartbeat)
	buf[24] = byte(h.SourceModule)
	buf[25] = byte(h.DestModule)
	binary.LittleEndian.PutUint32(buf[28:32], h.PayloadSize)
	binary.LittleEndian.PutUint32(buf[32:36], h.WriteSeq)
}

// decode reads a header from the first HeaderSize bytes of buf.
func decodeHeader(buf []byte) Header {
	_ = buf[:HeaderSize]
	var h Header
	copy(h.Magic[:], buf[0:8])
	h.VersionHash = binary.LittleEndian.Uint32(buf[8:12])
	h.Heartbeat = binary.LittleEndian.Uint64(buf[16:24])
	h.SourceModule = model.ModuleAbbrev(buf[24])
	h.DestModule = model.ModuleAbbrev(buf[25])
	h.PayloadSize = binary.LittleEndian.Uint32(buf[28:32])
	h.WriteSeq = binary.LittleEndian.Uint32(buf[32:36])
	return h
}

func (h Header) validMagic() bool { return h.Magic == headerMagic }

// StructVersionHash computes a schema fingerprint for T from its size and
// alignment, used to detect a reader/writer built against a mismatched
// payload definition. Matches the original's
// size*0x9E3779B9 XOR align*0x517CC1B7 with 32-bit wrapping multiplication.
func StructVersionHash[T any]() uint32 {
	var zero T
	size := uint32(unsafe.Sizeof(zero))
	align := uint32(reflect.TypeOf(zero).Align())
	return (size * 0x9E3779B9) ^ (align * 0x517CC1B7)
}

// PageAlign rounds n up to the next multiple of PageSize.
func PageAlign(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + PageSize - 1) / PageSize * PageSize
}

// DataSizeFor returns the page-aligned mmap length required to hold a
// HeaderSize-prefixed payload of type T.
func DataSizeFor[T any]() int {
	var zero T
	return PageAlign(HeaderSize + int(unsafe.Sizeof(zero)))
}
