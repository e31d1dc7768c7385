package engine

import (
	"math"

	"github.com/satindergrewal/pulseforge/internal/ugen"
)

const (
	// ParamRamp is the smoothing time for volume, filter and pump changes.
	ParamRamp = 0.05

	maxCutoff = 20000.0
	minCutoff = 20.0
)

// Chain is the fixed-order effect graph of one track:
// pitch shift, lowpass filter, distortion, sidechain gain, volume/mute.
// Sends to the shared reverb and delay are tapped after the volume stage.
type Chain struct {
	id string

	pitch     *ugen.PitchShift
	filter    *ugen.Lowpass
	cutoff    *Param
	dist      *ugen.Distortion
	sidechain *Param
	volume    *Param  // dB, floored at ugen.MinDb
	volumeDb  float64 // requested dB, may be -Inf
	muted     bool

	reverbSend float64
	delaySend  float64

	values map[string]float64
	input  [][2]float64
}

func newChain(id string, sampleRate float64) *Chain {
	return &Chain{
		id:        id,
		pitch:     ugen.NewPitchShift(sampleRate),
		filter:    ugen.NewLowpass(maxCutoff, 0.707, sampleRate),
		cutoff:    NewParam(maxCutoff),
		dist:      ugen.NewDistortion(0),
		sidechain: NewParam(1),
		volume:    NewParam(0),
		values:    make(map[string]float64),
	}
}

// ChainState is a read-only view of a chain's current stage values.
type ChainState struct {
	Semitones  float64
	Cutoff     float64
	Distortion float64
	Sidechain  float64
	VolumeDb   float64
	Muted      bool
	ReverbSend float64
	DelaySend  float64
}

func (c *Chain) state(now float64) ChainState {
	return ChainState{
		Semitones:  c.pitch.Semitones(),
		Cutoff:     c.cutoff.ValueAt(now),
		Distortion: c.dist.Amount(),
		Sidechain:  c.sidechain.ValueAt(now),
		VolumeDb:   c.volumeDb,
		Muted:      c.muted,
		ReverbSend: c.reverbSend,
		DelaySend:  c.delaySend,
	}
}

func (c *Chain) setVolumeDb(db, now float64) {
	c.volumeDb = db
	c.volume.RampTo(math.Max(db, ugen.MinDb), ParamRamp, now)
}

// process runs c.input through the stages and mixes the result into the
// master and send buses. frame is the engine frame of input[0].
func (c *Chain) process(frame int64, sampleRate float64, master, reverb, delay [][2]float64) {
	for i, s := range c.input {
		t := float64(frame+int64(i)) / sampleRate
		if i%16 == 0 {
			c.filter.SetCutoff(c.cutoff.ValueAt(t))
		}
		s = c.pitch.Process(s)
		s = c.filter.Process(s)
		s = c.dist.Process(s)

		g := c.sidechain.ValueAt(t)
		if c.muted {
			g = 0
		} else {
			g *= ugen.DbToGain(c.volume.ValueAt(t))
		}
		l, r := s[0]*g, s[1]*g

		master[i][0] += l
		master[i][1] += r
		reverb[i][0] += l * c.reverbSend
		reverb[i][1] += r * c.reverbSend
		delay[i][0] += l * c.delaySend
		delay[i][1] += r * c.delaySend
	}
	end := float64(frame+int64(len(c.input))) / sampleRate
	c.cutoff.Prune(end)
	c.sidechain.Prune(end)
	c.volume.Prune(end)
}

func (c *Chain) dispose() {
	c.pitch = nil
	c.filter = nil
	c.dist = nil
	c.input = nil
}
