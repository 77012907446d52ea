package shm

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"evo-control-unit/internal/model"
)

// segmentDir is the POSIX shared-memory mount every segment lives under.
const segmentDir = "/dev/shm"

func segmentPath(name string) string { return filepath.Join(segmentDir, "evo_"+name) }
func lockPath(name string) string    { return segmentPath(name) + ".lock" }

// Writer is the single-writer side of a typed SHM segment. T is the payload
// struct written after the 64-byte header; callers stage values into
// Payload() and call Commit to publish them.
type Writer[T any] struct {
	name     string
	file     *os.File
	lockFile *os.File
	data     []byte
	writeBuf T
	seq      uint32
}

// NewWriter creates (or truncates) the named segment, acquires exclusive
// ownership via flock on the companion lock file, and maps the segment for
// writing. Returns ErrWriterAlreadyExists if a live writer already holds the
// lock.
func NewWriter[T any](name string, src, dst model.ModuleAbbrev) (*Writer[T], error) {
	lf, err := os.OpenFile(lockPath(name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, ErrMmapFailed(name, err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lf.Close()
		return nil, ErrWriterAlreadyExists(name)
	}

	size := DataSizeFor[T]()
	f, err := os.OpenFile(segmentPath(name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
		return nil, ErrMmapFailed(name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
		return nil, ErrMmapFailed(name, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
		return nil, ErrMmapFailed(name, err)
	}

	w := &Writer[T]{name: name, file: f, lockFile: lf, data: data}
	h := NewHeader(src, dst, uint32(unsafe.Sizeof(w.writeBuf)))
	h.VersionHash = StructVersionHash[T]()
	h.encode(w.data)
	return w, nil
}

// Payload returns a pointer to the writer's staging buffer. Mutate it in
// place, then call Commit to publish the snapshot.
func (w *Writer[T]) Payload() *T { return &w.writeBuf }

// Commit publishes the staged payload using the odd/even write_seq
// protocol: the sequence is driven odd before the copy and back to the next
// even value after, so a reader observing an odd value knows to retry.
func (w *Writer[T]) Commit() {
	seqPtr := (*uint32)(unsafe.Pointer(&w.data[32]))
	atomic.StoreUint32(seqPtr, w.seq+1)

	payload := w.data[HeaderSize:]
	src := unsafe.Slice((*byte)(unsafe.Pointer(&w.writeBuf)), unsafe.Sizeof(w.writeBuf))
	copy(payload, src)

	hbPtr := (*uint64)(unsafe.Pointer(&w.data[16]))
	atomic.StoreUint64(hbPtr, atomic.LoadUint64(hbPtr)+1)

	w.seq += 2
	atomic.StoreUint32(seqPtr, w.seq)
}

// Close unmaps the segment and releases the writer-exclusivity lock. The
// segment file itself is left in place so a subsequent writer (after this
// process exits) can reopen it; CleanupDead is responsible for removing
// genuinely abandoned segments.
func (w *Writer[T]) Close() error {
	_ = unix.Munmap(w.data)
	_ = w.file.Close()
	_ = unix.Flock(int(w.lockFile.Fd()), unix.LOCK_UN)
	return w.lockFile.Close()
}
