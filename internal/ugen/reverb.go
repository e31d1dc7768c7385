package ugen

import "math"

// Freeverb tunings at 44.1 kHz; scaled to the running sample rate.
var (
	combTunings    = []int{1116, 1188, 1277, 1356, 1422, 1491, 1557, 1617}
	allpassTunings = []int{556, 441, 341, 225}
)

const stereoSpread = 23

type comb struct {
	buf      []float64
	pos      int
	feedback float64
	damp     float64
	store    float64
}

func (c *comb) process(x float64) float64 {
	out := c.buf[c.pos]
	c.store = out*(1-c.damp) + c.store*c.damp
	c.buf[c.pos] = x + c.store*c.feedback
	c.pos = (c.pos + 1) % len(c.buf)
	return out
}

type allpass struct {
	buf []float64
	pos int
}

func (a *allpass) process(x float64) float64 {
	b := a.buf[a.pos]
	a.buf[a.pos] = x + b*0.5
	a.pos = (a.pos + 1) % len(a.buf)
	return b - x
}

// Reverb is a Schroeder-Moorer (Freeverb) room. Its output is fully wet.
type Reverb struct {
	combs     [2][]*comb
	allpasses [2][]*allpass
	decay     float64
}

// NewReverb builds a reverb whose tail lasts roughly decay seconds.
func NewReverb(decay, sampleRate float64) *Reverb {
	scale := sampleRate / 44100
	r := &Reverb{}
	for ch := 0; ch < 2; ch++ {
		spread := ch * stereoSpread
		for _, t := range combTunings {
			r.combs[ch] = append(r.combs[ch], &comb{buf: make([]float64, int(float64(t+spread)*scale)+1), damp: 0.3})
		}
		for _, t := range allpassTunings {
			r.allpasses[ch] = append(r.allpasses[ch], &allpass{buf: make([]float64, int(float64(t+spread)*scale)+1)})
		}
	}
	r.SetDecay(decay, sampleRate)
	return r
}

// SetDecay tunes comb feedback so the tail falls by 60 dB after decay seconds.
func (r *Reverb) SetDecay(decay, sampleRate float64) {
	r.decay = decay
	for ch := range r.combs {
		for _, c := range r.combs[ch] {
			loop := float64(len(c.buf)) / sampleRate
			c.feedback = math.Pow(10, -3*loop/decay)
		}
	}
}

// Decay returns the configured tail length in seconds.
func (r *Reverb) Decay() float64 { return r.decay }

// Process replaces samples with the reverberated signal.
func (r *Reverb) Process(samples [][2]float64) {
	for i := range samples {
		in := (samples[i][0] + samples[i][1]) * 0.015
		for ch := 0; ch < 2; ch++ {
			var out float64
			for _, c := range r.combs[ch] {
				out += c.process(in)
			}
			for _, a := range r.allpasses[ch] {
				out = a.process(out)
			}
			samples[i][ch] = out
		}
	}
}
