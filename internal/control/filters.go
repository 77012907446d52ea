package control

import "math"

// BiquadCoeffs holds a direct-form-II biquad's transfer-function
// coefficients (normalized so a0 = 1).
type BiquadCoeffs struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// NotchCoeffs derives an RBJ-style notch biquad tuned to reject fNotch with
// bandwidth bwNotch at the given sample rate, used to suppress a mechanical
// resonance in the torque command.
func NotchCoeffs(fNotch, bwNotch, sampleRate float64) BiquadCoeffs {
	if fNotch <= 0 || sampleRate <= 0 {
		return BiquadCoeffs{B0: 1}
	}
	w0 := 2 * math.Pi * fNotch / sampleRate
	alpha := math.Sin(w0) * math.Sinh(math.Ln2/2*bwNotch*w0/math.Sin(w0))
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha
	return BiquadCoeffs{
		B0: 1 / a0,
		B1: -2 * cosw0 / a0,
		B2: 1 / a0,
		A1: -2 * cosw0 / a0,
		A2: (1 - alpha) / a0,
	}
}

// BiquadState carries a biquad filter's delay-line memory between samples.
type BiquadState struct {
	x1, x2, y1, y2 float64
}

// Apply filters one sample through the biquad described by c.
func (s *BiquadState) Apply(c BiquadCoeffs, x float64) float64 {
	y := c.B0*x + c.B1*s.x1 + c.B2*s.x2 - c.A1*s.y1 - c.A2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// FilterChainState is the per-axis notch-then-low-pass filter chain applied
// to the raw control-loop output before saturation.
type FilterChainState struct {
	notch  BiquadState
	coeffs BiquadCoeffs
	lpPrev float64
	ready  bool
}

// Init computes the notch filter coefficients for the configured notch
// frequency/bandwidth at sampleRate (the cycle frequency). The low-pass
// cutoff flp is applied per-sample in Apply since it may be hot-reloaded
// independently.
func (f *FilterChainState) Init(fNotch, bwNotch, sampleRate float64) {
	f.coeffs = NotchCoeffs(fNotch, bwNotch, sampleRate)
	f.notch = BiquadState{}
	f.lpPrev = 0
	f.ready = true
}

// Apply runs rawOutput through the notch filter and then a first-order
// low-pass with cutoff flp, returning the filtered torque command.
func (f *FilterChainState) Apply(rawOutput, flp, dt float64) float64 {
	notched := f.notch.Apply(f.coeffs, rawOutput)

	alpha := 1.0
	if flp > 0 && dt > 0 {
		tau := 1 / (2 * math.Pi * flp)
		alpha = dt / (tau + dt)
	}
	f.lpPrev += alpha * (notched - f.lpPrev)
	return f.lpPrev
}

// Initialized reports whether Init has been called. Reset clears only the
// filter memory and leaves this flag set.
func (f *FilterChainState) Initialized() bool { return f.ready }

// Reset clears all filter memory (I-PW-4/I-OM-4).
func (f *FilterChainState) Reset() {
	f.notch = BiquadState{}
	f.lpPrev = 0
}
