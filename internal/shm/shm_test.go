package shm

import (
	"fmt"
	"os"
	"testing"

	"evo-control-unit/internal/model"
)

type testPayload struct {
	A uint32
	B float64
	C [4]byte
}

func freshName(t *testing.T) string {
	t.Helper()
	name := fmt.Sprintf("test_%s_%d", t.Name(), os.Getpid())
	t.Cleanup(func() {
		os.Remove(segmentPath(name))
		os.Remove(lockPath(name))
	})
	return name
}

func TestWriterReaderRoundTrip(t *testing.T) {
	name := freshName(t)

	w, err := NewWriter[testPayload](name, model.ModuleCu, model.ModuleHal)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	w.Payload().A = 42
	w.Payload().B = 3.5
	w.Payload().C = [4]byte{1, 2, 3, 4}
	w.Commit()

	r, err := NewReader[testPayload](name)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var out testPayload
	if err := r.Read(&out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.A != 42 || out.B != 3.5 || out.C != [4]byte{1, 2, 3, 4} {
		t.Errorf("Read result = %+v, want A=42 B=3.5 C=[1 2 3 4]", out)
	}
}

func TestWriterAlreadyExists(t *testing.T) {
	name := freshName(t)

	w1, err := NewWriter[testPayload](name, model.ModuleCu, model.ModuleHal)
	if err != nil {
		t.Fatalf("NewWriter (first): %v", err)
	}
	defer w1.Close()

	_, err = NewWriter[testPayload](name, model.ModuleCu, model.ModuleHal)
	if err == nil {
		t.Fatal("expected ErrWriterAlreadyExists for a second writer on the same segment")
	}
}

func TestReaderVersionMismatch(t *testing.T) {
	name := freshName(t)

	w, err := NewWriter[testPayload](name, model.ModuleCu, model.ModuleHal)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	type differentPayload struct {
		X [128]byte
	}
	_, err = NewReader[differentPayload](name)
	if err == nil {
		t.Fatal("expected ErrVersionMismatch when the reader's type differs from the writer's")
	}
}

func TestReaderSegmentNotFound(t *testing.T) {
	name := freshName(t)
	_, err := NewReader[testPayload](name)
	if err == nil {
		t.Fatal("expected ErrSegmentNotFound for a segment that was never created")
	}
}

func TestReaderHasChanged(t *testing.T) {
	name := freshName(t)

	w, err := NewWriter[testPayload](name, model.ModuleCu, model.ModuleHal)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	w.Commit()

	r, err := NewReader[testPayload](name)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	seq, changed := r.HasChanged(0)
	if !changed {
		t.Fatal("expected HasChanged true against a never-seen sequence")
	}

	if _, changed := r.HasChanged(seq); changed {
		t.Error("expected HasChanged false when lastSeq matches the current sequence")
	}

	w.Commit()
	if _, changed := r.HasChanged(seq); !changed {
		t.Error("expected HasChanged true after a second Commit advanced the sequence")
	}
}

func TestReaderStaleHeartbeat(t *testing.T) {
	name := freshName(t)

	w, err := NewWriter[testPayload](name, model.ModuleCu, model.ModuleHal)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	w.Commit()

	r, err := NewReader[testPayload](name)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	r.threshold = 3

	var out testPayload
	for i := 0; i < 3; i++ {
		if err := r.Read(&out); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if r.Stale() {
		t.Fatal("heartbeat advanced on the first read; should not be stale yet")
	}
	for i := 0; i < 3; i++ {
		if err := r.Read(&out); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if !r.Stale() {
		t.Error("expected Stale true after threshold reads with no heartbeat advance")
	}
}

func TestReaderDestinationMismatch(t *testing.T) {
	name := freshName(t)

	w, err := NewWriter[testPayload](name, model.ModuleCu, model.ModuleHal)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	_, err = NewReader[testPayload](name, model.ModuleRe)
	if err == nil {
		t.Fatal("expected ErrDestinationMismatch when expectedDest differs from the header's dest_module")
	}

	r, err := NewReader[testPayload](name, model.ModuleHal)
	if err != nil {
		t.Fatalf("NewReader with matching expectedDest: %v", err)
	}
	r.Close()
}

func TestReaderPayloadTooSmall(t *testing.T) {
	name := freshName(t)

	f, err := os.OpenFile(segmentPath(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("create truncated segment: %v", err)
	}
	if err := f.Truncate(HeaderSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	_, err = NewReader[testPayload](name)
	if err == nil {
		t.Fatal("expected ErrPayloadTooSmall for a backing file smaller than the required payload size")
	}
}

func TestStructVersionHashDiffersByShape(t *testing.T) {
	type a struct{ X uint32 }
	type b struct{ X uint64 }
	if StructVersionHash[a]() == StructVersionHash[b]() {
		t.Error("differently-shaped structs should not share a version hash")
	}
	if StructVersionHash[a]() != StructVersionHash[a]() {
		t.Error("version hash must be stable across calls for the same type")
	}
}

func TestPageAlign(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{-1, 0},
		{1, PageSize},
		{PageSize, PageSize},
		{PageSize + 1, 2 * PageSize},
	}
	for _, c := range cases {
		if got := PageAlign(c.in); got != c.want {
			t.Errorf("PageAlign(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
