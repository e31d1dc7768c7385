package ugen

import "math"

// Lowpass is a stereo second-order lowpass (RBJ cookbook coefficients,
// direct form I). Process does not allocate.
type Lowpass struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 [2]float64
	y1, y2 [2]float64

	cutoff, q, sampleRate float64
}

// NewLowpass creates a lowpass at cutoff Hz.
func NewLowpass(cutoff, q, sampleRate float64) *Lowpass {
	f := &Lowpass{q: q, sampleRate: sampleRate}
	f.SetCutoff(cutoff)
	return f
}

// SetCutoff recomputes coefficients. The cutoff is clamped below Nyquist.
func (f *Lowpass) SetCutoff(cutoff float64) {
	cutoff = clamp(cutoff, 10, f.sampleRate*0.49)
	if cutoff == f.cutoff {
		return
	}
	f.cutoff = cutoff

	w0 := 2 * math.Pi * cutoff / f.sampleRate
	alpha := math.Sin(w0) / (2 * f.q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha

	f.b0 = (1 - cosw0) / 2 / a0
	f.b1 = (1 - cosw0) / a0
	f.b2 = (1 - cosw0) / 2 / a0
	f.a1 = -2 * cosw0 / a0
	f.a2 = (1 - alpha) / a0
}

// Cutoff returns the current cutoff in Hz.
func (f *Lowpass) Cutoff() float64 { return f.cutoff }

// Process filters one stereo frame.
func (f *Lowpass) Process(in [2]float64) [2]float64 {
	var out [2]float64
	for c := 0; c < 2; c++ {
		y := f.b0*in[c] + f.b1*f.x1[c] + f.b2*f.x2[c] - f.a1*f.y1[c] - f.a2*f.y2[c]
		f.x2[c], f.x1[c] = f.x1[c], in[c]
		f.y2[c], f.y1[c] = f.y1[c], y
		out[c] = y
	}
	return out
}

// Reset clears the filter history.
func (f *Lowpass) Reset() {
	f.x1, f.x2, f.y1, f.y2 = [2]float64{}, [2]float64{}, [2]float64{}, [2]float64{}
}
