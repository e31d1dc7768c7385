package engine

import (
	"math/rand/v2"
	"strings"

	"github.com/satindergrewal/pulseforge/internal/pattern"
	"github.com/satindergrewal/pulseforge/internal/ugen"
)

// Category classifies a track.
type Category string

const (
	Kick        Category = "kick"
	Percussion  Category = "percussion"
	Bass        Category = "bass"
	Lead        Category = "lead"
	FX          Category = "fx"
	LoadedAsset Category = "loaded-asset"
)

// ParseCategory maps a category name to a Category.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case Kick, Percussion, Bass, Lead, FX, LoadedAsset:
		return c, true
	}
	return "", false
}

// source produces the raw input of a track for one quantum starting at
// engine frame frame.
type source interface {
	render(buf [][2]float64, frame int64)
}

type voiceSource struct{ v ugen.Voice }

func (s voiceSource) render(buf [][2]float64, _ int64) { s.v.Stream(buf) }

// voiceSpec is the result of styling a category: the voice, the note each
// step plays and the note length in beats.
type voiceSpec struct {
	voice      ugen.Voice
	notes      []string
	noteLength float64
}

func hasAny(s string, words ...string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func repeatNote(n string) []string {
	out := make([]string, pattern.Steps)
	for i := range out {
		out[i] = n
	}
	return out
}

// buildVoice picks and configures the voice for a category and style hint.
func buildVoice(cat Category, style string, sampleRate float64, frame int64, rng *rand.Rand) (voiceSpec, error) {
	switch cat {
	case Kick:
		opts := ugen.MembraneOptions{
			Envelope:   ugen.Envelope{Attack: 0.001, Decay: 0.2, Release: 0.01},
			Octaves:    4,
			PitchDecay: 0.05,
		}
		note := "C1"
		if hasAny(style, "industrial", "dubstep") {
			opts.Envelope.Decay = 0.4
			opts.Octaves = 10
			note = "B0"
		}
		return voiceSpec{voice: ugen.NewMembrane(sampleRate, frame, opts), notes: repeatNote(note), noteLength: 0.5}, nil

	case Percussion:
		color, env := ugen.White, ugen.Envelope{Attack: 0.001, Decay: 0.05}
		if hasAny(style, "snare", "clap") {
			env.Decay = 0.15
			if hasAny(style, "industrial") {
				color, env.Decay = ugen.Pink, 0.4
			}
		}
		return voiceSpec{voice: ugen.NewNoiseVoice(sampleRate, frame, color, env, rng.Uint64()), notes: repeatNote(""), noteLength: 0.5}, nil

	case Bass:
		opts := ugen.MonoOptions{
			Wave:           ugen.Square,
			Envelope:       ugen.Envelope{Attack: 0.05, Decay: 0.3, Sustain: 0.2, Release: 0.8},
			FilterEnvelope: ugen.Envelope{Attack: 0.1, Decay: 0.2, Sustain: 0.5, Release: 0.5},
			BaseFrequency:  150,
			Octaves:        4,
		}
		note := "C2"
		if hasAny(style, "dark", "dubstep", "heavy") {
			opts.Wave = ugen.Sawtooth
			opts.BaseFrequency = 60
			note = "E1"
		}
		return voiceSpec{voice: ugen.NewMono(sampleRate, frame, opts), notes: repeatNote(note), noteLength: 0.25}, nil

	case Lead:
		v := ugen.NewDualVoice(sampleRate, frame, ugen.DualVoiceOptions{
			Wave0:         ugen.Sawtooth,
			Wave1:         ugen.Sine,
			Envelope0:     ugen.Envelope{Attack: 0.1, Decay: 0.3, Sustain: 0.4, Release: 1},
			Envelope1:     ugen.Envelope{Attack: 0.2, Decay: 0.2, Sustain: 0.3, Release: 1},
			Harmonicity:   1.5,
			VibratoAmount: 0.5,
			VibratoRate:   5,
		})
		scale := pattern.LeadScales[rng.IntN(len(pattern.LeadScales))]
		return voiceSpec{voice: v, notes: pattern.Melody(rng, scale, pattern.Steps), noteLength: 0.5}, nil
	}
	return voiceSpec{}, ErrUnknownCategory
}

// riser is a white-noise swell whose lowpass opens from 100 Hz to 15 kHz.
type riser struct {
	voice  *ugen.NoiseVoice
	filter *ugen.Lowpass
	cutoff *Param
	rate   float64
}

const (
	riserStartHz = 100.0
	riserEndHz   = 15000.0
)

func newRiser(bars int, now, sampleRate float64, frame int64, seed uint64) *riser {
	length := float64(bars) * 2
	v := ugen.NewNoiseVoice(sampleRate, frame, ugen.White,
		ugen.Envelope{Attack: length, Decay: 0.1, Sustain: 0.5, Release: 0.1}, seed)
	v.TriggerAttackRelease("", length, now)

	cutoff := NewParam(riserStartHz)
	cutoff.SetValueAt(riserStartHz, now)
	cutoff.ExponentialRampTo(riserEndHz, now+length)
	return &riser{
		voice:  v,
		filter: ugen.NewLowpass(riserStartHz, 1, sampleRate),
		cutoff: cutoff,
		rate:   sampleRate,
	}
}

func (r *riser) render(buf [][2]float64, frame int64) {
	r.voice.Stream(buf)
	for i := range buf {
		if i%16 == 0 {
			r.filter.SetCutoff(r.cutoff.ValueAt(float64(frame+int64(i)) / r.rate))
		}
		buf[i] = r.filter.Process(buf[i])
	}
}
