package engine

import (
	"log"
	"math"
)

const (
	// PPQ is the tick resolution per quarter note.
	PPQ = 192
	// TicksPerStep is one 1/16 note.
	TicksPerStep = PPQ / 4
	// TicksPerBar is one 4/4 bar.
	TicksPerBar = PPQ * 4

	MinTempo = 20.0
	MaxTempo = 300.0
)

// Tick is one step-grid event. Every subscriber receives the same value for
// a given grid point.
type Tick struct {
	Tick int64   // absolute tick, a multiple of TicksPerStep
	Step int     // Tick / TicksPerStep modulo the pattern length
	Time float64 // engine time in seconds at which the grid point falls
}

// TickFunc is called for every grid point while the transport runs.
type TickFunc func(Tick)

type subscriber struct {
	id int
	fn TickFunc
}

// Transport is the shared clock: tempo, running state and tick position.
// It is not safe for concurrent use; the Engine serializes access.
type Transport struct {
	sampleRate float64
	tempo      *Param
	target     float64
	rampTime   float64

	activated bool
	running   bool
	ticks     float64
	nextGrid  float64

	subs   []subscriber
	nextID int
}

// NewTransport creates a stopped transport at bpm.
func NewTransport(sampleRate, bpm, rampTime float64) *Transport {
	bpm = clampTempo(bpm)
	return &Transport{
		sampleRate: sampleRate,
		tempo:      NewParam(bpm),
		target:     bpm,
		rampTime:   rampTime,
	}
}

func clampTempo(bpm float64) float64 {
	if math.IsNaN(bpm) {
		return 120
	}
	return math.Min(math.Max(bpm, MinTempo), MaxTempo)
}

// Start activates the clock on first use and then ensures it is running.
func (tr *Transport) Start() {
	if !tr.activated {
		tr.activated = true
		log.Printf("Transport clock activated at %.1f BPM", tr.target)
	}
	tr.running = true
}

// Stop halts the clock and rewinds to tick zero.
func (tr *Transport) Stop() {
	tr.running = false
	tr.ticks = 0
	tr.nextGrid = 0
}

// Running reports whether the clock advances.
func (tr *Transport) Running() bool { return tr.running }

// SetTempo ramps the tempo to bpm starting at now and returns the clamped
// target.
func (tr *Transport) SetTempo(bpm, now float64) float64 {
	bpm = clampTempo(bpm)
	tr.target = bpm
	tr.tempo.RampTo(bpm, tr.rampTime, now)
	return bpm
}

// Tempo returns the target tempo. Scheduling and rate decisions read this
// value; the audible ramp only smooths tick integration.
func (tr *Transport) Tempo() float64 { return tr.target }

// TempoAt returns the ramped tempo at t.
func (tr *Transport) TempoAt(t float64) float64 { return tr.tempo.ValueAt(t) }

// Position returns the current tick position.
func (tr *Transport) Position() float64 { return tr.ticks }

// Subscribe registers fn for tick events. Subscribers are called in
// registration order. The returned func removes the subscription.
func (tr *Transport) Subscribe(fn TickFunc) (unsubscribe func()) {
	tr.nextID++
	id := tr.nextID
	tr.subs = append(tr.subs, subscriber{id: id, fn: fn})
	return func() {
		for i, s := range tr.subs {
			if s.id == id {
				tr.subs = append(tr.subs[:i:i], tr.subs[i+1:]...)
				return
			}
		}
	}
}

// advance moves the clock across n samples starting at frame and dispatches
// every grid point it crosses.
func (tr *Transport) advance(frame int64, n int) {
	defer tr.tempo.Prune(float64(frame+int64(n)) / tr.sampleRate)
	if !tr.running {
		return
	}
	for i := 0; i < n; i++ {
		t := float64(frame+int64(i)) / tr.sampleRate
		for tr.ticks >= tr.nextGrid-1e-9 {
			tick := int64(math.Round(tr.nextGrid))
			tr.dispatch(Tick{
				Tick: tick,
				Step: stepOf(tick),
				Time: t,
			})
			tr.nextGrid += TicksPerStep
			if !tr.running {
				return
			}
		}
		tr.ticks += tr.tempo.ValueAt(t) / 60 * PPQ / tr.sampleRate
	}
}

func stepOf(tick int64) int {
	s := int(math.Round(float64(tick)/TicksPerStep)) % 16
	if s < 0 {
		s += 16
	}
	return s
}

func (tr *Transport) dispatch(ev Tick) {
	subs := append([]subscriber(nil), tr.subs...)
	for _, s := range subs {
		safeCall(s.fn, ev)
	}
}

func safeCall(fn TickFunc, ev Tick) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Tick callback panicked at tick %d: %v", ev.Tick, r)
		}
	}()
	fn(ev)
}
