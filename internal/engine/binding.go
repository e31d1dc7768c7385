package engine

import (
	"strings"

	"github.com/gopxl/beep"
)

// DefaultNativeTempo is assumed for library loops with no tempo tag.
const DefaultNativeTempo = 126.0

// resampleQuality is the beep interpolation quality used for bindings.
const resampleQuality = 4

// BindingState is the lifecycle of a loaded asset.
type BindingState int

const (
	Unloaded BindingState = iota
	Loading
	SyncedIdle
	Playing
	Disposed
)

func (s BindingState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case SyncedIdle:
		return "synced-idle"
	case Playing:
		return "playing"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// AssetRef addresses a loadable audio asset.
type AssetRef struct {
	URI string
	// Generated marks clips of unknown tempo produced by a generative
	// provider, as opposed to locally authored loops.
	Generated bool
}

// IsGenerated reports whether the asset is an externally generated clip,
// either by flag or by the shape of its URI.
func (r AssetRef) IsGenerated() bool {
	return r.Generated || strings.HasPrefix(r.URI, "data:audio") || strings.Contains(r.URI, "/generate")
}

// EstimateNativeTempo returns the tempo an asset was authored at.
//
// Locally authored loops use hint, or DefaultNativeTempo when hint is not
// positive. Generated clips have no tempo tag; they are assumed to span 8
// or 16 beats, picking 16 when the clip would cover more than 12 beats at the
// current tempo. This threshold is a heuristic and should be replaced once
// real tempo detection is available.
func EstimateNativeTempo(duration, tempo float64, generated bool, hint float64) float64 {
	if generated && duration > 0 {
		beats := duration * tempo / 60
		assumed := 8.0
		if beats > 12 {
			assumed = 16
		}
		return assumed / duration * 60
	}
	if hint > 0 {
		return hint
	}
	return DefaultNativeTempo
}

// Binding ties a track to a decoded buffer and keeps its playback rate
// locked to the global tempo.
type Binding struct {
	State       BindingState
	Ref         AssetRef
	Hint        float64
	NativeTempo float64
	Duration    float64
	Rate        float64

	buffer       *beep.Buffer
	engineRate   beep.SampleRate
	resampler    *beep.Resampler
	pendingStart bool
	startFrame   int64
}

// ready moves a loading binding to synced-idle.
func (b *Binding) ready(buf *beep.Buffer, engineRate beep.SampleRate, tempo float64) {
	b.buffer = buf
	b.engineRate = engineRate
	b.Duration = buf.Format().SampleRate.D(buf.Len()).Seconds()
	b.NativeTempo = EstimateNativeTempo(b.Duration, tempo, b.Ref.IsGenerated(), b.Hint)
	b.State = SyncedIdle
	b.pendingStart = true
	b.apply(tempo)
}

// apply recomputes Rate for tempo and pushes it to the resampler.
func (b *Binding) apply(tempo float64) {
	if b.NativeTempo <= 0 {
		return
	}
	b.Rate = tempo / b.NativeTempo
	if b.resampler != nil {
		b.resampler.SetRatio(b.Rate * float64(b.buffer.Format().SampleRate) / float64(b.engineRate))
	}
}

// start begins looped playback from the top of the buffer at frame.
func (b *Binding) start(frame int64, tempo float64) {
	if b.State != SyncedIdle || b.buffer == nil {
		return
	}
	loop := beep.Loop(-1, b.buffer.Streamer(0, b.buffer.Len()))
	b.resampler = beep.Resample(resampleQuality, b.buffer.Format().SampleRate, b.engineRate, loop)
	b.startFrame = frame
	b.pendingStart = false
	b.State = Playing
	b.apply(tempo)
}

// idle returns a playing binding to synced-idle, waiting for the next start.
func (b *Binding) idle() {
	if b.State == Playing {
		b.State = SyncedIdle
	}
	if b.State == SyncedIdle {
		b.pendingStart = true
		b.resampler = nil
	}
}

func (b *Binding) dispose() {
	b.State = Disposed
	b.buffer = nil
	b.resampler = nil
	b.pendingStart = false
}

// render streams the binding into buf, which starts at engine frame frame.
func (b *Binding) render(buf [][2]float64, frame int64) {
	clear(buf)
	if b.State != Playing || b.resampler == nil {
		return
	}
	off := 0
	if b.startFrame > frame {
		off = int(b.startFrame - frame)
	}
	if off >= len(buf) {
		return
	}
	b.resampler.Stream(buf[off:])
}
