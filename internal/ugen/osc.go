package ugen

import (
	"math"
	"math/rand/v2"
)

// Waveform selects an oscillator shape.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Sawtooth
	Triangle
)

// Oscillator is a phase accumulator producing one of the basic waveforms.
type Oscillator struct {
	Wave  Waveform
	phase float64 // 0..1
}

// Next advances the oscillator by one sample at freq Hz and returns the
// output in -1..1.
func (o *Oscillator) Next(freq, sampleRate float64) float64 {
	p := o.phase
	o.phase += freq / sampleRate
	o.phase -= math.Floor(o.phase)

	switch o.Wave {
	case Square:
		if p < 0.5 {
			return 1
		}
		return -1
	case Sawtooth:
		return 2*p - 1
	case Triangle:
		return 1 - 4*math.Abs(p-0.5)
	default:
		return math.Sin(2 * math.Pi * p)
	}
}

// Reset puts the phase back to zero.
func (o *Oscillator) Reset() { o.phase = 0 }

// NoiseColor selects the spectrum of a Noise source.
type NoiseColor int

const (
	White NoiseColor = iota
	Pink
)

// Noise generates white or pink noise. Pink noise uses Paul Kellet's
// economy filter.
type Noise struct {
	Color      NoiseColor
	rng        *rand.Rand
	b0, b1, b2 float64
}

// NewNoise returns a noise source seeded deterministically.
func NewNoise(color NoiseColor, seed uint64) *Noise {
	return &Noise{Color: color, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns the next noise sample in roughly -1..1.
func (n *Noise) Next() float64 {
	white := n.rng.Float64()*2 - 1
	if n.Color != Pink {
		return white
	}
	n.b0 = 0.99765*n.b0 + white*0.0990460
	n.b1 = 0.96300*n.b1 + white*0.2965164
	n.b2 = 0.57000*n.b2 + white*1.0526913
	return (n.b0 + n.b1 + n.b2 + white*0.1848) * 0.25
}
