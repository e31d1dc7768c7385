// Package pattern provides the 16-step rhythm grid and the generators that
// seed it: Euclidean rhythms and scale-constrained melodies.
package pattern

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Steps is the fixed length of every pattern.
const Steps = 16

// Pattern is a cyclic grid of onset flags.
type Pattern [Steps]bool

// Active reports whether step is set. Any integer is accepted; it wraps.
func (p *Pattern) Active(step int) bool {
	return p[mod(step, Steps)]
}

// Set copies steps into p in place. Shorter input repeats cyclically, an
// empty slice clears the pattern.
func (p *Pattern) Set(steps []bool) {
	if len(steps) == 0 {
		*p = Pattern{}
		return
	}
	for i := range p {
		p[i] = steps[i%len(steps)]
	}
}

// Bools returns a copy of the steps as a slice.
func (p *Pattern) Bools() []bool {
	out := make([]bool, Steps)
	copy(out, p[:])
	return out
}

// Count returns the number of active steps.
func (p *Pattern) Count() int {
	n := 0
	for _, on := range p {
		if on {
			n++
		}
	}
	return n
}

// String renders the pattern as "x" for onsets and "." for rests.
func (p Pattern) String() string {
	var b strings.Builder
	b.Grow(Steps)
	for _, on := range p {
		if on {
			b.WriteByte('x')
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// Parse reads a pattern written as onsets ("x", "X", "1") and rests (".",
// "-", "0"). Whitespace and "|" separators are ignored.
func Parse(s string) (Pattern, error) {
	var steps []bool
	for _, r := range s {
		switch r {
		case 'x', 'X', '1':
			steps = append(steps, true)
		case '.', '-', '0':
			steps = append(steps, false)
		case ' ', '\t', '|':
		default:
			return Pattern{}, fmt.Errorf("invalid step %q in pattern %q", r, s)
		}
	}
	if len(steps) != Steps {
		return Pattern{}, fmt.Errorf("pattern %q has %d steps, want %d", s, len(steps), Steps)
	}
	var p Pattern
	p.Set(steps)
	return p, nil
}

// FromBools builds a pattern from a slice, repeating it if shorter.
func FromBools(steps []bool) Pattern {
	var p Pattern
	p.Set(steps)
	return p
}

// Euclid distributes k onsets over n steps, placing onset i at floor(i*n/k).
// k <= 0 yields silence and k >= n yields all onsets.
func Euclid(k, n int) []bool {
	if n <= 0 {
		return nil
	}
	out := make([]bool, n)
	if k <= 0 {
		return out
	}
	if k >= n {
		for i := range out {
			out[i] = true
		}
		return out
	}
	for i := 0; i < k; i++ {
		out[i*n/k] = true
	}
	return out
}

// Default returns the seed pattern for a track category when none was
// supplied. Unknown categories get an empty pattern.
func Default(category string) Pattern {
	switch category {
	case "kick", "percussion":
		return FromBools(Euclid(4, Steps))
	case "bass":
		return FromBools(Euclid(8, Steps))
	case "lead":
		p, _ := Parse("x..x..x.x..x.x..")
		return p
	}
	return Pattern{}
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

// Scale is an ordered list of pitch-class names, e.g. {"C", "Eb", "F"}.
type Scale struct {
	Name       string
	PitchClass []string
	BaseOctave int
}

// Lead scales used when a lead track is created without explicit notes.
var LeadScales = []Scale{
	{Name: "c-minor-pentatonic", PitchClass: []string{"C", "Eb", "F", "G", "Bb"}, BaseOctave: 3},
	{Name: "c-dorian", PitchClass: []string{"C", "D", "Eb", "F", "G", "A", "Bb"}, BaseOctave: 3},
	{Name: "f-minor-pentatonic", PitchClass: []string{"F", "Ab", "Bb", "C", "Eb"}, BaseOctave: 2},
}

// Note returns the scale degree at index, transposed by floor(index/len)
// octaves from the base octave. Negative indices wrap downward.
func (s Scale) Note(index int) string {
	return ScaleNote(s.PitchClass, index, s.BaseOctave)
}

// ScaleNote returns scale[index mod len] in octave baseOctave+floor(index/len).
func ScaleNote(scale []string, index, baseOctave int) string {
	if len(scale) == 0 {
		return ""
	}
	n := len(scale)
	octave := baseOctave + floorDiv(index, n)
	return fmt.Sprintf("%s%d", scale[mod(index, n)], octave)
}

func floorDiv(a, n int) int {
	q := a / n
	if (a%n != 0) && ((a < 0) != (n < 0)) {
		q--
	}
	return q
}

// Melody draws length notes from the scale, using indices spanning two
// octaves above the base.
func Melody(rng *rand.Rand, s Scale, length int) []string {
	out := make([]string, length)
	span := 2 * len(s.PitchClass)
	if span == 0 {
		return out
	}
	for i := range out {
		out[i] = s.Note(rng.IntN(span))
	}
	return out
}
