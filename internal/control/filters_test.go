package control

import (
	"math"
	"testing"
)

func TestNotchCoeffsDegenerateCase(t *testing.T) {
	c := NotchCoeffs(0, 1, 1000)
	if c.B0 != 1 || c.B1 != 0 || c.B2 != 0 {
		t.Errorf("fNotch<=0 should return a pass-through biquad, got %+v", c)
	}
	c = NotchCoeffs(50, 1, 0)
	if c.B0 != 1 {
		t.Errorf("sampleRate<=0 should return a pass-through biquad, got %+v", c)
	}
}

func TestBiquadApplyPassThrough(t *testing.T) {
	s := &BiquadState{}
	c := BiquadCoeffs{B0: 1}
	for i, x := range []float64{1, 2, 3, 4} {
		y := s.Apply(c, x)
		if y != x {
			t.Errorf("sample %d: pass-through biquad should return input unchanged, got %v want %v", i, y, x)
		}
	}
}

func TestFilterChainAttenuatesNotchFrequency(t *testing.T) {
	var f FilterChainState
	sampleRate := 1000.0
	fNotch := 50.0
	f.Init(fNotch, 2.0, sampleRate)

	dt := 1.0 / sampleRate
	var maxOut float64
	n := 500
	for i := 0; i < n; i++ {
		x := math.Sin(2 * math.Pi * fNotch * float64(i) * dt)
		y := f.Apply(x, 0, dt) // Flp=0 disables the low-pass stage (alpha=1)
		if i > n/2 {          // let transients settle
			if math.Abs(y) > maxOut {
				maxOut = math.Abs(y)
			}
		}
	}
	if maxOut > 0.2 {
		t.Errorf("notch filter should attenuate a sine at its tuned frequency well below unity, settled amplitude = %v", maxOut)
	}
}

func TestFilterChainInitializedAndReset(t *testing.T) {
	var f FilterChainState
	if f.Initialized() {
		t.Error("a zero-value FilterChainState must not report Initialized")
	}
	f.Init(50, 2, 1000)
	if !f.Initialized() {
		t.Error("Initialized must be true after Init")
	}
	f.Apply(1.0, 10, 0.001)
	f.Reset()
	// Reset clears filter memory but does not clear the ready flag.
	if !f.Initialized() {
		t.Error("Reset must not clear the Initialized flag (only filter memory)")
	}
}
