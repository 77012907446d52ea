package shm

import (
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"evo-control-unit/internal/model"
)

// MaxRetries bounds the number of attempts a reader makes to observe a
// stable, even write_seq before giving up (spec §4.A.5, §7 cancellation
// rules).
const MaxRetries = 10

// DefaultStaleThreshold is the number of consecutive reads with an
// unchanged heartbeat before a segment is considered stale.
const DefaultStaleThreshold = 50

// Reader is the multi-reader side of a typed SHM segment.
type Reader[T any] struct {
	name          string
	file          *os.File
	data          []byte
	lastHeartbeat uint64
	staleCount    int
	threshold     int
}

// NewReader opens and maps an existing segment for reading. The optional
// expectedDest (spec §4.A.5's attach_reader<T>(name, stale_threshold
// [, expected_dest])) checks the mapped header's dest_module against the
// caller's own module identity; at most one value is consulted. Returns
// ErrSegmentNotFound if the segment file does not exist, ErrPayloadTooSmall
// if the backing file is smaller than a HeaderSize-prefixed T (avoiding a
// SIGBUS on first payload access), ErrDestinationMismatch if expectedDest is
// given and does not match, or ErrVersionMismatch if the mapped header's
// schema hash does not match T.
func NewReader[T any](name string, expectedDest ...model.ModuleAbbrev) (*Reader[T], error) {
	f, err := os.OpenFile(segmentPath(name), os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSegmentNotFound(name)
		}
		return nil, ErrMmapFailed(name, err)
	}

	size := DataSizeFor[T]()
	if fi, statErr := f.Stat(); statErr == nil {
		if fi.Size() < int64(size) {
			f.Close()
			return nil, ErrPayloadTooSmall(name, int64(size), fi.Size())
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, ErrMmapFailed(name, err)
	}

	h := decodeHeader(data)
	if !h.validMagic() {
		unix.Munmap(data)
		f.Close()
		return nil, ErrInvalidMagic(name)
	}
	if len(expectedDest) > 0 && h.DestModule != expectedDest[0] {
		unix.Munmap(data)
		f.Close()
		return nil, ErrDestinationMismatch(name, expectedDest[0], h.DestModule)
	}
	want := StructVersionHash[T]()
	if h.VersionHash != want {
		unix.Munmap(data)
		f.Close()
		return nil, ErrVersionMismatch(name, want, h.VersionHash)
	}

	return &Reader[T]{name: name, file: f, data: data, threshold: DefaultStaleThreshold}, nil
}

// Read copies the current stable snapshot of the payload into out. It
// retries up to MaxRetries times if it observes an odd write_seq or a
// changing sequence across the copy (the writer is mid-commit), yielding
// the scheduler between attempts.
func (r *Reader[T]) Read(out *T) error {
	seqPtr := (*uint32)(unsafe.Pointer(&r.data[32]))
	payload := r.data[HeaderSize:]
	dst := unsafe.Slice((*byte)(unsafe.Pointer(out)), unsafe.Sizeof(*out))

	for attempt := 0; attempt < MaxRetries; attempt++ {
		seq1 := atomic.LoadUint32(seqPtr)
		if seq1%2 != 0 {
			runtime.Gosched()
			continue
		}
		copy(dst, payload)
		seq2 := atomic.LoadUint32(seqPtr)
		if seq1 == seq2 {
			r.trackHeartbeat()
			return nil
		}
		runtime.Gosched()
	}
	return ErrRetriesExhausted(r.name, MaxRetries)
}

func (r *Reader[T]) trackHeartbeat() {
	hbPtr := (*uint64)(unsafe.Pointer(&r.data[16]))
	hb := atomic.LoadUint64(hbPtr)
	if hb == r.lastHeartbeat {
		r.staleCount++
	} else {
		r.staleCount = 0
		r.lastHeartbeat = hb
	}
}

// Stale reports whether the writer's heartbeat has failed to advance for
// the configured consecutive-read threshold.
func (r *Reader[T]) Stale() bool { return r.staleCount >= r.threshold }

// HasChanged reports whether the payload's write_seq has advanced since the
// last Read, without performing a copy. Optional segments (recipe executor,
// RPC) poll this before Read to avoid redundant processing.
func (r *Reader[T]) HasChanged(lastSeq uint32) (uint32, bool) {
	seqPtr := (*uint32)(unsafe.Pointer(&r.data[32]))
	cur := atomic.LoadUint32(seqPtr)
	return cur, cur != lastSeq
}

// Close unmaps the segment.
func (r *Reader[T]) Close() error {
	_ = unix.Munmap(r.data)
	return r.file.Close()
}
