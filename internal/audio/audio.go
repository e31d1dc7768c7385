package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Source renders stereo float frames on demand. The engine satisfies it.
type Source interface {
	Render(buf [][2]float64)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(buf [][2]float64)

func (f SourceFunc) Render(buf [][2]float64) { f(buf) }
