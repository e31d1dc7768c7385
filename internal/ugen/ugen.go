// Package ugen holds the unit generators the engine composes: oscillators,
// noise, envelopes, a lowpass biquad, distortion, pitch shift, a feedback
// delay, an algorithmic reverb, a peak limiter and the synthesis voices built
// from them. Everything here works on stereo frames in beep's [][2]float64
// layout and keeps no global state.
package ugen

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MinDb is the floor used when a decibel value has to be interpolated.
// Anything at or below it is treated as silence.
const MinDb = -100.0

// GainToDb converts a linear gain to decibels. Zero or negative gain maps
// to negative infinity.
func GainToDb(gain float64) float64 {
	if gain <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(gain)
}

// DbToGain converts decibels to a linear gain. Values at or below MinDb
// return 0.
func DbToGain(db float64) float64 {
	if db <= MinDb || math.IsInf(db, -1) {
		return 0
	}
	return math.Pow(10, db/20)
}

var pitchClasses = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3, "E": 4, "F": 5,
	"F#": 6, "Gb": 6, "G": 7, "G#": 8, "Ab": 8, "A": 9, "A#": 10, "Bb": 10, "B": 11,
}

// MIDINote parses scientific pitch notation ("C1", "Eb3", "F#2") into a
// MIDI note number, where C4 is 60.
func MIDINote(note string) (int, error) {
	note = strings.TrimSpace(note)
	if len(note) < 2 {
		return 0, fmt.Errorf("invalid note %q", note)
	}
	split := 1
	if note[1] == '#' || note[1] == 'b' {
		split = 2
	}
	pc, ok := pitchClasses[note[:split]]
	if !ok {
		return 0, fmt.Errorf("invalid pitch class in %q", note)
	}
	octave, err := strconv.Atoi(note[split:])
	if err != nil {
		return 0, fmt.Errorf("invalid octave in %q: %w", note, err)
	}
	return (octave+1)*12 + pc, nil
}

// NoteFrequency returns the equal-tempered frequency of a note name.
func NoteFrequency(note string) (float64, error) {
	m, err := MIDINote(note)
	if err != nil {
		return 0, err
	}
	return 440 * math.Pow(2, float64(m-69)/12), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
