// Package forge turns a text prompt into a playing track: it asks the
// command interpreter for effect settings, then plays a library loop, a
// generated clip, or a locally synthesized voice, in that order of
// preference.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/pulseforge/internal/engine"
	"github.com/satindergrewal/pulseforge/internal/loops"
	"github.com/satindergrewal/pulseforge/internal/nlu"
)

// Where a forged track's audio came from.
const (
	SourceLibrary   = "library"
	SourceGenerated = "generated"
	SourceLocal     = "local"
)

const historySize = 16

// ErrEmptyPrompt is returned for blank prompts.
var ErrEmptyPrompt = errors.New("forge: empty prompt")

// Interpreter maps a command to effect parameters.
type Interpreter interface {
	Interpret(ctx context.Context, cmd string) nlu.Decision
}

// ClipSource generates an audio clip and returns its URI. Any error sends
// the forge to local synthesis.
type ClipSource interface {
	Clip(ctx context.Context, category, prompt string) (string, error)
}

// Config holds forge timing.
type Config struct {
	InterpretTimeout time.Duration // bound on the NLU call
	Seed             uint64
}

// Request asks for a new track.
type Request struct {
	Prompt string `json:"prompt"`
	Type   string `json:"type,omitempty"` // suggested part: drums, bass, lead, synth, fx, hat
}

// Result describes a forged track.
type Result struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Type     string             `json:"type"`
	Source   string             `json:"source"`
	URI      string             `json:"uri,omitempty"`
	Params   map[string]float64 `json:"params"`
	Fallback string             `json:"fallback,omitempty"` // why the preferred source was skipped
}

// Status is the forge's current activity.
type Status struct {
	InFlight int      `json:"in_flight"`
	Recent   []Result `json:"recent"`
}

// Forge builds tracks on an engine.
type Forge struct {
	engine  *engine.Engine
	interp  Interpreter
	clips   ClipSource
	library *loops.Library
	cfg     Config

	mu       sync.Mutex
	rng      *rand.Rand
	inFlight int
	recent   []Result
}

// New creates a forge. interp, clips and library may be nil.
func New(e *engine.Engine, interp Interpreter, clips ClipSource, library *loops.Library, cfg Config) *Forge {
	if cfg.InterpretTimeout <= 0 {
		cfg.InterpretTimeout = 15 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Forge{
		engine:  e,
		interp:  interp,
		clips:   clips,
		library: library,
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// DetectType picks the part a prompt asks for. Later keywords win:
// "synth bass" is a lead, "bass drum" is a bass.
func DetectType(prompt, suggested string) string {
	t := strings.ToLower(strings.TrimSpace(suggested))
	if t == "" {
		t = "synth"
	}
	p := strings.ToLower(prompt)
	if strings.Contains(p, "drum") || strings.Contains(p, "kick") {
		t = "drums"
	}
	if strings.Contains(p, "bass") {
		t = "bass"
	}
	if strings.Contains(p, "lead") || strings.Contains(p, "synth") {
		t = "lead"
	}
	return t
}

// LocalCategory maps a part type onto the engine voice that can stand in
// for it.
func LocalCategory(typ string) engine.Category {
	switch typ {
	case "drums", "drum", "kick":
		return engine.Kick
	case "hat", "percussion", "snare", "clap":
		return engine.Percussion
	case "bass":
		return engine.Bass
	case "fx":
		return engine.FX
	}
	return engine.Lead
}

func (f *Forge) newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Forge creates and starts a track for req, starting the transport when it
// is stopped.
func (f *Forge) Forge(ctx context.Context, req Request) (Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{}, ErrEmptyPrompt
	}
	f.mu.Lock()
	f.inFlight++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if !f.engine.Running() {
		f.engine.Start()
	}

	typ := DetectType(prompt, req.Type)
	decision := f.interpret(ctx, prompt)

	res, err := f.forge(ctx, prompt, typ, decision)
	if err != nil {
		return Result{}, err
	}
	f.remember(res)
	log.Printf("Forged %s track %s (%s) from %q", res.Source, res.ID, res.Type, prompt)
	return res, nil
}

func (f *Forge) forge(ctx context.Context, prompt, typ string, d nlu.Decision) (Result, error) {
	var reasons []string

	if d.LoopCategory != "" {
		res, err := f.fromLibrary(ctx, d)
		if err == nil {
			return res, nil
		}
		reasons = append(reasons, err.Error())
	}

	if f.clips != nil {
		res, err := f.fromClip(ctx, prompt, typ, d)
		if err == nil {
			return res, nil
		}
		reasons = append(reasons, err.Error())
	} else {
		reasons = append(reasons, "clip generation disabled")
	}

	res, err := f.local(prompt, typ, d)
	if err != nil {
		return Result{}, err
	}
	res.Fallback = strings.Join(reasons, "; ")
	return res, nil
}

func (f *Forge) interpret(ctx context.Context, prompt string) nlu.Decision {
	if f.interp == nil {
		return nlu.Decision{Params: map[string]float64{}}
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.InterpretTimeout)
	defer cancel()
	d := f.interp.Interpret(ctx, prompt)
	if d.Params == nil {
		d.Params = map[string]float64{}
	}
	return d
}

func (f *Forge) fromLibrary(ctx context.Context, d nlu.Decision) (Result, error) {
	f.mu.Lock()
	lp, ok := f.library.Pick(f.rng, d.LoopCategory)
	f.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("no %s loops in library", d.LoopCategory)
	}
	id := f.newID("pro_")
	f.apply(id, d.Params)
	if err := f.engine.LoadAndPlay(ctx, id, engine.AssetRef{URI: lp.Path}, float64(lp.BPM)); err != nil {
		f.engine.Remove(id)
		return Result{}, fmt.Errorf("library loop %s: %w", lp.Name, err)
	}
	return Result{
		ID:     id,
		Name:   loopName(lp),
		Type:   lp.Category,
		Source: SourceLibrary,
		URI:    lp.Path,
		Params: d.Params,
	}, nil
}

// loopName titles a loop by its title part, "SL - Synth Loop 1 - G- 126 BPM"
// becoming "PRO SYNTH LOOP 1".
func loopName(lp loops.Loop) string {
	title := lp.Name
	if parts := strings.Split(lp.Name, " - "); len(parts) >= 2 {
		title = parts[1]
	}
	return strings.ToUpper("PRO " + strings.TrimSpace(title))
}

func (f *Forge) fromClip(ctx context.Context, prompt, typ string, d nlu.Decision) (Result, error) {
	uri, err := f.clips.Clip(ctx, typ, prompt)
	if err != nil {
		return Result{}, err
	}
	id := f.newID("")
	f.apply(id, d.Params)
	if err := f.engine.LoadAndPlay(ctx, id, engine.AssetRef{URI: uri, Generated: true}, 0); err != nil {
		f.engine.Remove(id)
		return Result{}, fmt.Errorf("generated clip: %w", err)
	}
	return Result{
		ID:     id,
		Name:   strings.ToUpper(prompt),
		Type:   typ,
		Source: SourceGenerated,
		URI:    uri,
		Params: d.Params,
	}, nil
}

func (f *Forge) local(prompt, typ string, d nlu.Decision) (Result, error) {
	id := f.newID("")
	f.apply(id, d.Params)
	if err := f.engine.CreateLocalVoice(id, LocalCategory(typ), nil, prompt); err != nil {
		f.engine.Remove(id)
		return Result{}, fmt.Errorf("local voice: %w", err)
	}
	return Result{
		ID:     id,
		Name:   strings.ToUpper(prompt),
		Type:   typ,
		Source: SourceLocal,
		Params: d.Params,
	}, nil
}

// apply sets params on id in name order.
func (f *Forge) apply(id string, params map[string]float64) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.engine.SetParameter(id, k, params[k])
	}
}

// Command interprets cmd and applies the resulting parameters to an existing
// track. It returns the applied decision.
func (f *Forge) Command(ctx context.Context, id, cmd string) (nlu.Decision, error) {
	if strings.TrimSpace(cmd) == "" {
		return nlu.Decision{}, ErrEmptyPrompt
	}
	if !f.hasTrack(id) {
		return nlu.Decision{}, fmt.Errorf("%w: %s", engine.ErrNotFound, id)
	}
	d := f.interpret(ctx, cmd)
	f.apply(id, d.Params)
	return d, nil
}

func (f *Forge) hasTrack(id string) bool {
	for _, t := range f.engine.Tracks() {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (f *Forge) remember(r Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, r)
	if len(f.recent) > historySize {
		f.recent = f.recent[len(f.recent)-historySize:]
	}
}

// Status returns in-flight count and recent results, newest last.
func (f *Forge) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{InFlight: f.inFlight, Recent: append([]Result(nil), f.recent...)}
}
