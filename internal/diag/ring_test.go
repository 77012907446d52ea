package diag

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

func newTestRing(capacity int) (*Ring, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	return NewRing(capacity, logger), &buf
}

func TestRingDefaultsCapacityWhenNonPositive(t *testing.T) {
	r, _ := newTestRing(0)
	if len(r.buf) != 256 {
		t.Errorf("capacity<=0 should default to 256, got %d", len(r.buf))
	}
}

func TestRingPushAndDrainAll(t *testing.T) {
	r, buf := newTestRing(4)
	r.Push("alpha")
	r.Push("beta")
	r.drainAll()
	out := buf.String()
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "beta") {
		t.Errorf("expected both messages drained, got %q", out)
	}
}

func TestRingPushOverwritesOldestWhenFull(t *testing.T) {
	r, buf := newTestRing(2)
	r.Push("one")
	r.Push("two")
	r.Push("three") // overwrites "one"
	r.drainAll()
	out := buf.String()
	if strings.Contains(out, "one") {
		t.Error("the oldest unread entry should have been overwritten and never drained")
	}
	if !strings.Contains(out, "two") || !strings.Contains(out, "three") {
		t.Errorf("expected the two most recent entries drained, got %q", out)
	}
}

func TestRingRunDrainsOnStop(t *testing.T) {
	r, buf := newTestRing(8)
	r.Push("queued before run")
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.Run(time.Hour, stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after stop was closed")
	}
	if !strings.Contains(buf.String(), "queued before run") {
		t.Error("Run must drain any pending entries before returning on stop")
	}
}
