package shm

import (
	"fmt"

	"evo-control-unit/internal/model"
)

// Error is the typed error set for the SHM transport, modeled on the
// original's ShmError enum so callers can switch on identity rather than
// message text.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Kind discriminates the category of transport failure.
type Kind int

const (
	KindWriterAlreadyExists Kind = iota
	KindSegmentNotFound
	KindVersionMismatch
	KindLockHeld
	KindRetriesExhausted
	KindHeartbeatStale
	KindInvalidMagic
	KindMmapFailed
	KindDestinationMismatch
	KindPayloadTooSmall
)

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// ErrWriterAlreadyExists reports that a live writer already holds the lock
// file for name.
func ErrWriterAlreadyExists(name string) error {
	return newErr(KindWriterAlreadyExists, "shm: writer already exists for segment %q", name)
}

// ErrSegmentNotFound reports that the named segment file does not exist.
func ErrSegmentNotFound(name string) error {
	return newErr(KindSegmentNotFound, "shm: segment %q not found", name)
}

// ErrVersionMismatch reports a struct_version_hash mismatch between writer
// and reader schemas.
func ErrVersionMismatch(name string, want, got uint32) error {
	return newErr(KindVersionMismatch, "shm: segment %q version mismatch: want %08x got %08x", name, want, got)
}

// ErrRetriesExhausted reports that a reader failed to observe a stable,
// even write_seq within the configured retry budget.
func ErrRetriesExhausted(name string, attempts int) error {
	return newErr(KindRetriesExhausted, "shm: segment %q read retries exhausted after %d attempts", name, attempts)
}

// ErrHeartbeatStale reports that the writer's heartbeat has not advanced
// for at least the configured stale threshold of consecutive reads.
func ErrHeartbeatStale(name string) error {
	return newErr(KindHeartbeatStale, "shm: segment %q heartbeat stale", name)
}

// ErrInvalidMagic reports that a mapped segment does not carry the expected
// header magic bytes.
func ErrInvalidMagic(name string) error {
	return newErr(KindInvalidMagic, "shm: segment %q invalid header magic", name)
}

// ErrMmapFailed wraps a failure to map or allocate the backing file.
func ErrMmapFailed(name string, cause error) error {
	return newErr(KindMmapFailed, "shm: segment %q mmap failed: %v", name, cause)
}

// ErrDestinationMismatch reports that a segment's header dest_module does
// not match the expected_dest a reader was opened with (spec §4.A.5).
func ErrDestinationMismatch(name string, want, got model.ModuleAbbrev) error {
	return newErr(KindDestinationMismatch, "shm: segment %q destination mismatch: want module %d got %d", name, want, got)
}

// ErrPayloadTooSmall reports that a segment's backing file is smaller than
// the header-plus-payload size required for T, which would otherwise risk a
// SIGBUS on first access past the mapped region (spec §7 SHM error
// taxonomy).
func ErrPayloadTooSmall(name string, want, got int64) error {
	return newErr(KindPayloadTooSmall, "shm: segment %q payload too small: want at least %d bytes, backing file has %d", name, want, got)
}
