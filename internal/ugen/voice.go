package ugen

import (
	"math"

	"github.com/gopxl/beep"
)

// VoiceKind names one of the closed set of synthesis voices.
type VoiceKind int

const (
	KindMembrane VoiceKind = iota
	KindNoise
	KindMono
	KindDualVoice
)

func (k VoiceKind) String() string {
	switch k {
	case KindMembrane:
		return "membrane"
	case KindNoise:
		return "noise"
	case KindMono:
		return "mono"
	case KindDualVoice:
		return "dual-voice"
	}
	return "unknown"
}

// Voice is a monophonic synthesis source. Triggers are scheduled at
// absolute engine times (seconds) and rendered sample-accurately by Stream.
// The voice's sample clock starts at the engine frame it was created on and
// advances by exactly the number of samples streamed.
type Voice interface {
	beep.Streamer
	// TriggerAttackRelease schedules a note starting at time at and released
	// duration seconds later. Noise voices ignore note.
	TriggerAttackRelease(note string, duration, at float64)
	Kind() VoiceKind
	// Active reports whether any note is still sounding or pending at t.
	Active(t float64) bool
}

type noteEvent struct {
	on, off, freq float64
}

// clock and the note list shared by every voice.
type voiceBase struct {
	sampleRate float64
	frame      int64
	env        Envelope
	notes      []noteEvent
	current    float64 // on time of the note that last produced sound
	gain       float64
}

func newVoiceBase(sampleRate float64, startFrame int64, env Envelope, gain float64) voiceBase {
	return voiceBase{sampleRate: sampleRate, frame: startFrame, env: env, current: math.Inf(-1), gain: gain}
}

func (v *voiceBase) schedule(note string, duration, at float64) {
	freq := 0.0
	if note != "" {
		if f, err := NoteFrequency(note); err == nil {
			freq = f
		}
	}
	ev := noteEvent{on: at, off: at + math.Max(duration, 0), freq: freq}

	i := len(v.notes)
	for i > 0 && v.notes[i-1].on > at {
		i--
	}
	v.notes = append(v.notes, noteEvent{})
	copy(v.notes[i+1:], v.notes[i:])
	v.notes[i] = ev
}

// active returns the most recent note started at or before t and drops
// the ones it superseded.
func (v *voiceBase) active(t float64) (noteEvent, bool) {
	idx := -1
	for i := range v.notes {
		if v.notes[i].on > t {
			break
		}
		idx = i
	}
	if idx < 0 {
		return noteEvent{}, false
	}
	if idx > 0 {
		v.notes = v.notes[idx:]
	}
	return v.notes[0], true
}

func (v *voiceBase) timeAt(i int) float64 {
	return float64(v.frame+int64(i)) / v.sampleRate
}

// Active reports whether a note is pending or still audible at t.
func (v *voiceBase) Active(t float64) bool {
	for _, n := range v.notes {
		if n.on > t || !v.env.Done(t, n.off) {
			return true
		}
	}
	return false
}

func (v *voiceBase) Err() error { return nil }

// Membrane is a kick-drum voice: a sine whose pitch falls from
// freq*Octaves to freq over PitchDecay seconds.
type Membrane struct {
	voiceBase
	osc        Oscillator
	Octaves    float64
	PitchDecay float64
}

// MembraneOptions configures NewMembrane.
type MembraneOptions struct {
	Envelope   Envelope
	Octaves    float64
	PitchDecay float64
}

// NewMembrane creates a membrane voice whose clock starts at startFrame.
func NewMembrane(sampleRate float64, startFrame int64, opts MembraneOptions) *Membrane {
	return &Membrane{
		voiceBase:  newVoiceBase(sampleRate, startFrame, opts.Envelope, 0.9),
		Octaves:    opts.Octaves,
		PitchDecay: opts.PitchDecay,
	}
}

func (m *Membrane) Kind() VoiceKind { return KindMembrane }

func (m *Membrane) TriggerAttackRelease(note string, duration, at float64) {
	m.schedule(note, duration, at)
}

func (m *Membrane) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		t := m.timeAt(i)
		n, ok := m.active(t)
		if !ok {
			samples[i] = [2]float64{}
			continue
		}
		if n.on != m.current {
			m.current = n.on
			m.osc.Reset()
		}
		x := 1.0
		if m.PitchDecay > 0 {
			x = clamp((t-n.on)/m.PitchDecay, 0, 1)
		}
		freq := n.freq * math.Pow(m.Octaves, 1-x)
		s := m.osc.Next(freq, m.sampleRate) * m.env.Level(t, n.on, n.off) * m.gain
		samples[i] = [2]float64{s, s}
	}
	m.frame += int64(len(samples))
	return len(samples), true
}

// NoiseVoice plays enveloped white or pink noise. It backs both
// percussion tracks and the riser.
type NoiseVoice struct {
	voiceBase
	noise *Noise
}

// NewNoiseVoice creates a noise voice whose clock starts at startFrame.
func NewNoiseVoice(sampleRate float64, startFrame int64, color NoiseColor, env Envelope, seed uint64) *NoiseVoice {
	return &NoiseVoice{
		voiceBase: newVoiceBase(sampleRate, startFrame, env, 0.5),
		noise:     NewNoise(color, seed),
	}
}

func (n *NoiseVoice) Kind() VoiceKind { return KindNoise }

func (n *NoiseVoice) TriggerAttackRelease(_ string, duration, at float64) {
	n.schedule("", duration, at)
}

func (n *NoiseVoice) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		t := n.timeAt(i)
		ev, ok := n.active(t)
		if !ok {
			samples[i] = [2]float64{}
			continue
		}
		level := n.env.Level(t, ev.on, ev.off)
		if level == 0 {
			samples[i] = [2]float64{}
			continue
		}
		s := n.noise.Next() * level * n.gain
		samples[i] = [2]float64{s, s}
	}
	n.frame += int64(len(samples))
	return len(samples), true
}

// Mono is a single oscillator through a lowpass swept by its own filter
// envelope.
type Mono struct {
	voiceBase
	osc       Oscillator
	filter    *Lowpass
	filterEnv Envelope
	baseFreq  float64
	octaves   float64
}

// MonoOptions configures NewMono.
type MonoOptions struct {
	Wave           Waveform
	Envelope       Envelope
	FilterEnvelope Envelope
	BaseFrequency  float64
	Octaves        float64
}

// NewMono creates a mono voice whose clock starts at startFrame.
func NewMono(sampleRate float64, startFrame int64, opts MonoOptions) *Mono {
	return &Mono{
		voiceBase: newVoiceBase(sampleRate, startFrame, opts.Envelope, 0.5),
		osc:       Oscillator{Wave: opts.Wave},
		filter:    NewLowpass(opts.BaseFrequency, 1.2, sampleRate),
		filterEnv: opts.FilterEnvelope,
		baseFreq:  opts.BaseFrequency,
		octaves:   opts.Octaves,
	}
}

func (m *Mono) Kind() VoiceKind { return KindMono }

func (m *Mono) TriggerAttackRelease(note string, duration, at float64) {
	m.schedule(note, duration, at)
}

func (m *Mono) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		t := m.timeAt(i)
		n, ok := m.active(t)
		if !ok {
			samples[i] = [2]float64{}
			continue
		}
		if i%16 == 0 {
			fl := m.filterEnv.Level(t, n.on, n.off)
			m.filter.SetCutoff(m.baseFreq * math.Pow(2, m.octaves*fl))
		}
		s := m.osc.Next(n.freq, m.sampleRate) * m.env.Level(t, n.on, n.off) * m.gain
		samples[i] = m.filter.Process([2]float64{s, s})
	}
	m.frame += int64(len(samples))
	return len(samples), true
}

// DualVoice layers two oscillators, the second at freq*Harmonicity, with
// a shared vibrato.
type DualVoice struct {
	voiceBase
	osc0, osc1    Oscillator
	env1          Envelope
	Harmonicity   float64
	VibratoAmount float64
	VibratoRate   float64
}

// DualVoiceOptions configures NewDualVoice.
type DualVoiceOptions struct {
	Wave0, Wave1  Waveform
	Envelope0     Envelope
	Envelope1     Envelope
	Harmonicity   float64
	VibratoAmount float64
	VibratoRate   float64
}

// NewDualVoice creates a two-oscillator voice whose clock starts at startFrame.
func NewDualVoice(sampleRate float64, startFrame int64, opts DualVoiceOptions) *DualVoice {
	return &DualVoice{
		voiceBase:     newVoiceBase(sampleRate, startFrame, opts.Envelope0, 0.35),
		osc0:          Oscillator{Wave: opts.Wave0},
		osc1:          Oscillator{Wave: opts.Wave1},
		env1:          opts.Envelope1,
		Harmonicity:   opts.Harmonicity,
		VibratoAmount: opts.VibratoAmount,
		VibratoRate:   opts.VibratoRate,
	}
}

func (d *DualVoice) Kind() VoiceKind { return KindDualVoice }

func (d *DualVoice) TriggerAttackRelease(note string, duration, at float64) {
	d.schedule(note, duration, at)
}

func (d *DualVoice) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		t := d.timeAt(i)
		n, ok := d.active(t)
		if !ok {
			samples[i] = [2]float64{}
			continue
		}
		vib := math.Pow(2, d.VibratoAmount*0.5*math.Sin(2*math.Pi*d.VibratoRate*t)/12)
		f := n.freq * vib
		s0 := d.osc0.Next(f, d.sampleRate) * d.env.Level(t, n.on, n.off)
		s1 := d.osc1.Next(f*d.Harmonicity, d.sampleRate) * d.env1.Level(t, n.on, n.off)
		s := (s0 + s1) * d.gain
		samples[i] = [2]float64{s, s}
	}
	d.frame += int64(len(samples))
	return len(samples), true
}
