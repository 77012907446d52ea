package shm

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"evo-control-unit/internal/model"
)

// Info describes one discovered segment without mapping its payload.
type Info struct {
	Name         string
	SourceModule model.ModuleAbbrev
	DestModule   model.ModuleAbbrev
	WriterAlive  bool
}

// Health classifies a segment's liveness for monitoring/diagnostic use.
type Health int

const (
	Healthy Health = iota
	Stale
	Dead
)

// Snapshot pairs a discovered segment with its health classification.
type Snapshot struct {
	Info   Info
	Health Health
}

// Discovery enumerates and probes SHM segments under /dev/shm. It never
// mutates segment contents; ProbeWriter's "successful lock acquisition
// means the writer is dead" rule is the same non-destructive technique the
// writer itself uses to detect a stale takeover target.
type Discovery struct{}

// NewDiscovery returns a Discovery bound to the standard /dev/shm mount.
func NewDiscovery() *Discovery { return &Discovery{} }

// ListSegments enumerates every evo_* segment present under /dev/shm.
func (d *Discovery) ListSegments() ([]Info, error) {
	entries, err := os.ReadDir(segmentDir)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "evo_") || strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		name := strings.TrimPrefix(e.Name(), "evo_")
		info, err := d.probe(name)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// ListFor returns only the segments whose source or destination module
// matches m.
func (d *Discovery) ListFor(m model.ModuleAbbrev) ([]Info, error) {
	all, err := d.ListSegments()
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, info := range all {
		if info.SourceModule == m || info.DestModule == m {
			out = append(out, info)
		}
	}
	return out, nil
}

func (d *Discovery) probe(name string) (Info, error) {
	f, err := os.Open(segmentPath(name))
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Info{}, err
	}
	h := decodeHeader(buf)
	if !h.validMagic() {
		return Info{}, ErrInvalidMagic(name)
	}
	return Info{
		Name:         name,
		SourceModule: h.SourceModule,
		DestModule:   h.DestModule,
		WriterAlive:  !d.probeWriter(name),
	}, nil
}

// probeWriter attempts a non-blocking exclusive flock on the segment's lock
// file. Success means no process holds it, i.e. the writer is dead.
func (d *Discovery) probeWriter(name string) bool {
	lf, err := os.OpenFile(lockPath(name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false
	}
	defer lf.Close()

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return false
	}
	unix.Flock(int(lf.Fd()), unix.LOCK_UN)
	return true
}

// CleanupDead removes the segment and lock files for every segment whose
// writer has been probed dead.
func (d *Discovery) CleanupDead() ([]string, error) {
	infos, err := d.ListSegments()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, info := range infos {
		if info.WriterAlive {
			continue
		}
		if d.probeWriter(info.Name) {
			os.Remove(segmentPath(info.Name))
			os.Remove(lockPath(info.Name))
			removed = append(removed, info.Name)
		}
	}
	return removed, nil
}

// heartbeatSnapshot reads the raw heartbeat counter without mapping T,
// used by Snapshot's staleness heuristic.
func (d *Discovery) heartbeatSnapshot(name string) (uint64, error) {
	f, err := os.Open(segmentPath(name))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, err
	}
	return decodeHeader(buf).Heartbeat, nil
}

// TakeSnapshot walks every discovered segment and classifies it Healthy,
// Stale (writer alive but heartbeat unchanged across the probe window), or
// Dead (no live writer). This is diagnostic tooling, not a supervisor: it
// performs one probe and returns, it does not loop.
func (d *Discovery) TakeSnapshot() ([]Snapshot, error) {
	infos, err := d.ListSegments()
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(infos))
	for _, info := range infos {
		if !info.WriterAlive {
			out = append(out, Snapshot{Info: info, Health: Dead})
			continue
		}
		hb1, err := d.heartbeatSnapshot(info.Name)
		if err != nil {
			out = append(out, Snapshot{Info: info, Health: Dead})
			continue
		}
		hb2, _ := d.heartbeatSnapshot(info.Name)
		if hb2 == hb1 {
			out = append(out, Snapshot{Info: info, Health: Stale})
		} else {
			out = append(out, Snapshot{Info: info, Health: Healthy})
		}
	}
	return out, nil
}
