// Package stream delivers the master bus to listeners over chunked MP3 and
// WebRTC/Opus.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// listenerBuffer holds about three seconds of 20 ms frames.
const listenerBuffer = 150

// Broadcaster fans out master-bus PCM frames to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	frames    atomic.Int64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C       chan []int16 // buffered channel of 20ms PCM frames
	Kind    string       // transport name, e.g. "mp3" or "webrtc"
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped returns how many frames this listener missed for being too slow.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// Stats summarizes the broadcaster.
type Stats struct {
	Frames    int64          `json:"frames"`
	Listeners map[string]int `json:"listeners"`
	Dropped   int64          `json:"dropped"`
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener of the given kind.
func (b *Broadcaster) Subscribe(kind string) *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		Kind: kind,
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Stats returns frame and per-kind listener counts.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{Frames: b.frames.Load(), Listeners: make(map[string]int)}
	for l := range b.listeners {
		s.Listeners[l.Kind]++
		s.Dropped += l.Dropped()
	}
	return s
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.frames.Add(1)
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
