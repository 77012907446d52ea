package shm

import (
	"testing"

	"evo-control-unit/internal/model"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := NewHeader(model.ModuleCu, model.ModuleHal, 128)
	h.VersionHash = 0xDEADBEEF
	h.Heartbeat = 77
	h.WriteSeq = 4

	buf := make([]byte, HeaderSize)
	h.encode(buf)
	got := decodeHeader(buf)

	if got.Magic != h.Magic || got.VersionHash != h.VersionHash || got.Heartbeat != h.Heartbeat ||
		got.SourceModule != h.SourceModule || got.DestModule != h.DestModule ||
		got.PayloadSize != h.PayloadSize || got.WriteSeq != h.WriteSeq {
		t.Errorf("decode(encode(h)) = %+v, want %+v", got, h)
	}
	if !got.validMagic() {
		t.Error("round-tripped header should still carry a valid magic")
	}
}

func TestHeaderInvalidMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := decodeHeader(buf)
	if h.validMagic() {
		t.Error("an all-zero buffer must not decode to a valid magic")
	}
}

func TestHeaderMagicWireBytes(t *testing.T) {
	want := [8]byte{'E', 'V', 'O', '_', 'P', '2', 'P', 0}
	if headerMagic != want {
		t.Errorf("headerMagic = %v, want ASCII \"EVO_P2P\\0\" %v", headerMagic, want)
	}
}
