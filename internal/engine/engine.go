// Package engine is the real-time scheduling and routing core: per-track
// effect chains, a shared step clock, step sequencers, sidechain ducking
// and tempo-synced asset playback. It performs no I/O; assets arrive through
// the Loader supplied in Options and audio leaves through Render.
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gopxl/beep"

	"github.com/satindergrewal/pulseforge/internal/pattern"
	"github.com/satindergrewal/pulseforge/internal/ugen"
)

const (
	DefaultSampleRate = 48000
	DefaultTempo      = 128.0
	DefaultDuckAmount = 0.5
	DefaultDuckAttack = 0.05

	// MasterGain is applied to the summed buses ahead of the limiter.
	MasterGain = 2.0
	// LimiterThreshold is the master ceiling in dBFS.
	LimiterThreshold = -0.5

	reverbDecay   = 2.5
	delayFeedback = 0.4
	maxDelay      = 2.0
	riserBars     = 4
)

// Loader decodes the asset at uri into a buffer. It may block on network or
// disk and is always called without the engine lock.
type Loader func(ctx context.Context, uri string) (*beep.Buffer, error)

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	SampleRate  int
	Tempo       float64
	TempoRamp   float64
	DuckAmount  float64
	DuckAttack  float64
	DuckRelease float64 // 0 means one eighth note at the current tempo
	Loader      Loader
	Seed        uint64
}

func (o *Options) defaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.Tempo <= 0 {
		o.Tempo = DefaultTempo
	}
	if o.TempoRamp <= 0 {
		o.TempoRamp = ParamRamp
	}
	if o.DuckAmount <= 0 || o.DuckAmount > 1 {
		o.DuckAmount = DefaultDuckAmount
	}
	if o.DuckAttack <= 0 {
		o.DuckAttack = DefaultDuckAttack
	}
}

type track struct {
	id       string
	category Category
	style    string
	bars     int

	voice       ugen.Voice
	seq         *sequencer
	src         source
	binding     *Binding
	unsubscribe func()
}

func (tr *track) release() {
	if tr.unsubscribe != nil {
		tr.unsubscribe()
		tr.unsubscribe = nil
	}
	if tr.binding != nil {
		tr.binding.dispose()
	}
	tr.seq = nil
	tr.voice = nil
	tr.src = nil
}

// Engine owns every chain and track plus the shared clock and buses. All
// methods are safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	opts       Options
	sampleRate float64
	frame      int64
	closed     bool

	transport *Transport
	chains    map[string]*Chain
	tracks    map[string]*track
	order     []string

	reverb    *ugen.Reverb
	delay     *ugen.FeedbackDelay
	limiter   *ugen.Limiter
	reverbBus [][2]float64
	delayBus  [][2]float64
	meter     *meter

	rng *rand.Rand
}

// New creates a stopped engine.
func New(opts Options) *Engine {
	opts.defaults()
	sr := float64(opts.SampleRate)
	e := &Engine{
		opts:       opts,
		sampleRate: sr,
		transport:  NewTransport(sr, opts.Tempo, opts.TempoRamp),
		chains:     make(map[string]*Chain),
		tracks:     make(map[string]*track),
		reverb:     ugen.NewReverb(reverbDecay, sr),
		delay:      ugen.NewFeedbackDelay(30/opts.Tempo, delayFeedback, maxDelay, sr),
		limiter:    ugen.NewLimiter(LimiterThreshold, sr),
		meter:      newMeter(sr),
		rng:        rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5851f42d4c957f2d)),
	}
	e.transport.Subscribe(e.startBindings)
	return e
}

// Close removes every track and silences the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	for _, id := range slices.Clone(e.order) {
		e.remove(id)
	}
	e.transport.Stop()
	e.closed = true
	return nil
}

// SampleRate returns the render rate in Hz.
func (e *Engine) SampleRate() int { return e.opts.SampleRate }

// Now returns the engine time in seconds: the time of the next rendered sample.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now()
}

func (e *Engine) now() float64 { return float64(e.frame) / e.sampleRate }

// Start runs the transport. Bindings waiting for a start begin at tick zero.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.transport.Start()
}

// Stop halts and rewinds the transport. Playing assets return to
// synced-idle and restart from the top on the next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.Stop()
	for _, tr := range e.tracks {
		if tr.binding != nil {
			tr.binding.idle()
		}
	}
}

// Running reports whether the transport is running.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Running()
}

// Tempo returns the current target tempo in BPM.
func (e *Engine) Tempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Tempo()
}

// SetTempo ramps the transport to bpm and re-applies the playback rate of
// every live binding. The applied tempo is returned after clamping.
func (e *Engine) SetTempo(bpm float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	bpm = e.transport.SetTempo(bpm, e.now())
	e.delay.SetDelay(30 / bpm)
	for _, tr := range e.tracks {
		if b := tr.binding; b != nil && (b.State == SyncedIdle || b.State == Playing) {
			b.apply(bpm)
		}
	}
	return bpm
}

// chain returns the chain for id, building and wiring it on first access.
func (e *Engine) chain(id string) *Chain {
	if c, ok := e.chains[id]; ok {
		return c
	}
	c := newChain(id, e.sampleRate)
	e.chains[id] = c
	e.order = append(e.order, id)
	return c
}

// SetParameter applies a named control value in 0..1 to the chain of id,
// creating the chain if needed. Out-of-range values are clamped. Unknown
// kinds are ignored and reported as false.
func (e *Engine) SetParameter(id, kind string, value float64) bool {
	fn, ok := paramTable[kind]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	v := clamp01(value)
	c := e.chain(id)
	fn(c, v, e.now())
	c.values[kind] = v
	return true
}

// claim returns a fresh track record for id. An existing track is replaced
// only when it is an asset still stuck loading, which is the local fallback
// path after a failed load. Called with e.mu held.
func (e *Engine) claim(id string, cat Category, replaceAny bool) (*track, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if old, ok := e.tracks[id]; ok {
		stuck := old.binding != nil && old.binding.State == Loading
		if !replaceAny && !stuck {
			return nil, fmt.Errorf("%w: %s", ErrTrackExists, id)
		}
		old.release()
	}
	tr := &track{id: id, category: cat}
	e.tracks[id] = tr
	e.chain(id)
	return tr, nil
}

// CreateLocalVoice creates a synthesis track. A nil pattern selects the
// category default; style tweaks the voice ("industrial", "dark", ...).
// The fx category creates a noise riser.
func (e *Engine) CreateLocalVoice(id string, cat Category, p *pattern.Pattern, style string) error {
	if cat == FX {
		return e.createRiser(id, riserBars, style)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	spec, err := buildVoice(cat, style, e.sampleRate, e.frame, e.rng)
	if err != nil {
		return fmt.Errorf("create voice %s (%s): %w", id, cat, err)
	}
	tr, err := e.claim(id, cat, false)
	if err != nil {
		return err
	}
	seq := &sequencer{pattern: pattern.Default(string(cat)), notes: spec.notes, noteLength: spec.noteLength}
	if p != nil {
		seq.pattern = *p
	}
	tr.style = style
	tr.voice = spec.voice
	tr.seq = seq
	tr.src = voiceSource{spec.voice}
	e.subscribeSequencer(tr)
	log.Printf("Track %s: %s voice (%s) pattern %s", id, cat, spec.voice.Kind(), seq.pattern)
	return nil
}

// CreateNoiseRiser creates an fx track sweeping white noise up over bars*2
// seconds, starting now.
func (e *Engine) CreateNoiseRiser(id string, bars int) error {
	return e.createRiser(id, bars, "")
}

func (e *Engine) createRiser(id string, bars int, style string) error {
	if bars <= 0 {
		bars = riserBars
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, err := e.claim(id, FX, false)
	if err != nil {
		return err
	}
	tr.style = style
	tr.bars = bars
	tr.src = newRiser(bars, e.now(), e.sampleRate, e.frame, e.rng.Uint64())
	log.Printf("Track %s: noise riser over %d bars", id, bars)
	return nil
}

// LoadAndPlay binds a decoded asset to track id. Decoding runs without the
// engine lock. On failure the binding stays in the loading state with its
// chain intact, and the caller may fall back to CreateLocalVoice. On success
// playback starts on the next bar, or at tick zero once the transport
// starts. hint is the native tempo of locally authored loops.
func (e *Engine) LoadAndPlay(ctx context.Context, id string, ref AssetRef, hint float64) error {
	e.mu.Lock()
	if e.opts.Loader == nil {
		e.mu.Unlock()
		return ErrNoLoader
	}
	tr, err := e.claim(id, LoadedAsset, true)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	b := &Binding{State: Loading, Ref: ref, Hint: hint}
	tr.binding = b
	tr.src = b
	loader := e.opts.Loader
	e.mu.Unlock()

	buf, err := loader(ctx, ref.URI)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracks[id] != tr || b.State == Disposed {
		return fmt.Errorf("load %s: %w", id, ErrTrackRemoved)
	}
	if err != nil {
		log.Printf("Track %s: asset load failed, binding left loading: %v", id, err)
		return fmt.Errorf("load asset for %s: %w", id, err)
	}
	b.ready(buf, beep.SampleRate(e.opts.SampleRate), e.transport.Tempo())
	log.Printf("Track %s: asset ready (%.2fs, native %.1f BPM, rate %.4f)", id, b.Duration, b.NativeTempo, b.Rate)
	return nil
}

// startBindings starts waiting bindings on bar boundaries. It is the first
// transport subscriber, so bindings start before any sequencer of the same
// tick fires.
func (e *Engine) startBindings(ev Tick) {
	if ev.Tick%TicksPerBar != 0 {
		return
	}
	frame := int64(ev.Time*e.sampleRate + 0.5)
	for _, id := range e.order {
		tr := e.tracks[id]
		if tr == nil || tr.binding == nil || !tr.binding.pendingStart {
			continue
		}
		tr.binding.start(frame, e.transport.Tempo())
	}
}

// SetPattern replaces a sequenced track's pattern in place; the next tick
// observes it.
func (e *Engine) SetPattern(id string, p pattern.Pattern) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if tr.seq == nil {
		return fmt.Errorf("%w: %s", ErrNotSequenced, id)
	}
	tr.seq.pattern.Set(p[:])
	return nil
}

// SetNotes replaces the per-step notes of a sequenced track.
func (e *Engine) SetNotes(id string, notes []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if tr.seq == nil {
		return fmt.Errorf("%w: %s", ErrNotSequenced, id)
	}
	if len(notes) > 0 {
		tr.seq.notes = slices.Clone(notes)
	}
	return nil
}

// Remove destroys a track and its chain. Unknown ids are a no-op.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remove(id)
}

func (e *Engine) remove(id string) {
	if tr, ok := e.tracks[id]; ok {
		tr.release()
		delete(e.tracks, id)
		log.Printf("Track %s removed", id)
	}
	if c, ok := e.chains[id]; ok {
		c.dispose()
		delete(e.chains, id)
		e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	}
}

// TrackInfo is a snapshot of one track for callers.
type TrackInfo struct {
	ID          string
	Category    Category
	Style       string
	Pattern     *pattern.Pattern
	Notes       []string
	Voice       string
	Asset       *AssetRef
	State       BindingState
	NativeTempo float64
	Rate        float64
	Chain       ChainState
	Params      map[string]float64
}

// Tracks lists tracks in creation order.
func (e *Engine) Tracks() []TrackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	out := make([]TrackInfo, 0, len(e.tracks))
	for _, id := range e.order {
		tr, ok := e.tracks[id]
		if !ok {
			continue
		}
		c := e.chains[id]
		info := TrackInfo{
			ID:       id,
			Category: tr.category,
			Style:    tr.style,
			Chain:    c.state(now),
			Params:   cloneParams(c.values),
		}
		if tr.voice != nil {
			info.Voice = tr.voice.Kind().String()
		}
		if tr.seq != nil {
			p := tr.seq.pattern
			info.Pattern = &p
			info.Notes = slices.Clone(tr.seq.notes)
		}
		if b := tr.binding; b != nil {
			ref := b.Ref
			info.Asset = &ref
			info.State = b.State
			info.NativeTempo = b.NativeTempo
			info.Rate = b.Rate
		}
		out = append(out, info)
	}
	return out
}

func cloneParams(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Render produces the next len(buf) frames of master output. Tick
// callbacks for grid points inside the quantum run first, so every event in
// the quantum is rendered sample-accurately.
func (e *Engine) Render(buf [][2]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(buf)
	clear(buf)
	if e.closed || n == 0 {
		return
	}
	e.reverbBus = grow(e.reverbBus, n)
	e.delayBus = grow(e.delayBus, n)

	e.transport.advance(e.frame, n)

	for _, id := range e.order {
		tr := e.tracks[id]
		if tr == nil || tr.src == nil {
			continue
		}
		c := e.chains[id]
		c.input = grow(c.input, n)
		tr.src.render(c.input, e.frame)
		c.process(e.frame, e.sampleRate, buf, e.reverbBus, e.delayBus)
	}

	e.reverb.Process(e.reverbBus)
	e.delay.Process(e.delayBus)
	for i := range buf {
		buf[i][0] = (buf[i][0] + e.reverbBus[i][0] + e.delayBus[i][0]) * MasterGain
		buf[i][1] = (buf[i][1] + e.reverbBus[i][1] + e.delayBus[i][1]) * MasterGain
	}
	e.limiter.Process(buf)
	e.meter.push(buf)
	e.frame += int64(n)
}

// grow returns a zeroed slice of length n, reusing s when it is large enough.
func grow(s [][2]float64, n int) [][2]float64 {
	if cap(s) < n {
		return make([][2]float64, n)
	}
	s = s[:n]
	clear(s)
	return s
}

// Levels returns the master meter reading.
func (e *Engine) Levels() Levels {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meter.levels()
}
