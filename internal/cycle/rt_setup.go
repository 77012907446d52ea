package cycle

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Error is the typed error set for cycle-runner failures.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// ErrRtSetup wraps an RT environment setup failure (mlockall, affinity, or
// scheduler).
func ErrRtSetup(stage string, cause error) error {
	return &Error{msg: fmt.Sprintf("cycle: rt setup failed at %s: %v", stage, cause)}
}

// ErrCycleOverrun reports a hard real-time deadline miss.
func ErrCycleOverrun(actualNs, budgetNs int64) error {
	return &Error{msg: fmt.Sprintf("cycle: overrun, actual=%dns budget=%dns", actualNs, budgetNs)}
}

// prefaultSize is the size of the scratch buffer touched by prefaultStack.
const prefaultSize = 1 << 20 // 1 MiB

// SetupRT performs the fixed RT-environment setup sequence: lock all
// process memory, prefault a 1 MiB scratch buffer, pin to the configured CPU, and
// switch to SCHED_FIFO at the given priority. In simulate mode every step
// is a no-op, matching the --sim CLI flag (spec §4.G.1, §7).
func SetupRT(cpu, priority int, simulate bool) error {
	if simulate {
		return nil
	}
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return ErrRtSetup("mlockall", err)
	}
	prefaultStack()
	if err := setAffinity(cpu); err != nil {
		return ErrRtSetup("sched_setaffinity", err)
	}
	if err := setScheduler(priority); err != nil {
		return ErrRtSetup("sched_setscheduler", err)
	}
	return nil
}

// prefaultStack writes every byte of a 1 MiB scratch buffer. The buffer is
// heap-allocated, so the goroutine's own stack pages are not prefaulted.
func prefaultStack() {
	buf := make([]byte, prefaultSize)
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
}

func setAffinity(cpu int) error {
	if cpu < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

func setScheduler(priority int) error {
	return unix.SchedSetscheduler(0, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(priority)})
}
