package engine

import (
	"math"
	"sort"

	"github.com/satindergrewal/pulseforge/internal/ugen"
)

// VolumeBoost scales volume inputs before conversion to dB, leaving headroom
// above unity in the upper half of the control.
const VolumeBoost = 4.0

// VolumeToDb maps a 0..1 control to decibels; 0 is silence (-Inf).
func VolumeToDb(v float64) float64 {
	v = clamp01(v)
	if v == 0 {
		return math.Inf(-1)
	}
	return ugen.GainToDb(v * VolumeBoost)
}

// FilterToHz maps a 0..1 control onto 20..20000 Hz.
func FilterToHz(v float64) float64 {
	return minCutoff + clamp01(v)*(maxCutoff-minCutoff)
}

// PitchToSemitones maps a 0..1 control onto -12..+12 semitones.
func PitchToSemitones(v float64) float64 {
	return (clamp01(v) - 0.5) * 24
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

// paramFunc applies an already clamped control value to a chain at now.
type paramFunc func(c *Chain, v, now float64)

var paramTable = map[string]paramFunc{
	"mute": func(c *Chain, v, _ float64) {
		c.muted = v != 0
	},
	"volume": func(c *Chain, v, now float64) {
		c.setVolumeDb(VolumeToDb(v), now)
	},
	"reverb": func(c *Chain, v, _ float64) {
		c.reverbSend = v
	},
	"delay": func(c *Chain, v, _ float64) {
		c.delaySend = v
	},
	"filter": func(c *Chain, v, now float64) {
		c.cutoff.RampTo(FilterToHz(v), ParamRamp, now)
	},
	"pitch": func(c *Chain, v, _ float64) {
		c.pitch.SetSemitones(PitchToSemitones(v))
	},
	"dist": func(c *Chain, v, _ float64) {
		c.dist.SetAmount(v)
	},
	"pump": func(c *Chain, _, now float64) {
		c.sidechain.RampTo(1, ParamRamp, now)
	},
}

// ParameterNames lists the parameter kinds SetParameter understands.
func ParameterNames() []string {
	names := make([]string, 0, len(paramTable))
	for k := range paramTable {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// KnownParameter reports whether kind has a handler.
func KnownParameter(kind string) bool {
	_, ok := paramTable[kind]
	return ok
}
