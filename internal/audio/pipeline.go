package audio

import (
	"context"
	"log"
	"sync"
	"time"
)

// fadeInFrames smooths the first frames after Run starts.
const fadeInFrames = 5

// Pipeline pulls audio from a Source at real-time rate and outputs 20 ms
// PCM frames.
type Pipeline struct {
	src     Source
	frameCh chan []int16

	mu       sync.RWMutex
	rendered int64 // frames of FrameSize
	dropped  int64
}

// NewPipeline creates a pipeline rendering from src.
func NewPipeline(src Source) *Pipeline {
	return &Pipeline{
		src:     src,
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Status returns how much audio has been rendered and how many frames were
// dropped because the consumer fell behind.
func (p *Pipeline) Status() (position time.Duration, dropped int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.rendered) * FrameDuration, p.dropped
}

// Run renders one frame per tick. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	buf := make([][2]float64, FrameSize)
	log.Printf("Pipeline running: %d Hz, %v frames", SampleRate, FrameDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.src.Render(buf)
		n := p.count()
		if n < fadeInFrames {
			Fade(buf, float64(n)/fadeInFrames, float64(n+1)/fadeInFrames)
		}
		frame := FloatsToInt16(buf)

		select {
		case p.frameCh <- frame:
		case <-ctx.Done():
			return
		default:
			// The render clock must not stall behind a slow consumer.
			p.mu.Lock()
			p.dropped++
			p.mu.Unlock()
		}
	}
}

func (p *Pipeline) count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.rendered
	p.rendered++
	return n
}

// RenderOffline pulls d worth of audio from src as fast as possible.
func RenderOffline(src Source, d time.Duration) [][2]float64 {
	total := int(d.Seconds() * SampleRate)
	out := make([][2]float64, total)
	for off := 0; off < total; off += FrameSize {
		end := min(off+FrameSize, total)
		src.Render(out[off:end])
	}
	return out
}
