package engine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/gopxl/beep"

	"github.com/satindergrewal/pulseforge/internal/pattern"
	"github.com/satindergrewal/pulseforge/internal/ugen"
)

const quantum = 960

type trigger struct {
	note     string
	duration float64
	at       float64
}

// recordingVoice stands in for a synthesis voice and remembers triggers.
type recordingVoice struct {
	kind     ugen.VoiceKind
	triggers []trigger
}

func (v *recordingVoice) Stream(s [][2]float64) (int, bool) { clear(s); return len(s), true }
func (v *recordingVoice) Err() error                         { return nil }
func (v *recordingVoice) Kind() ugen.VoiceKind               { return v.kind }
func (v *recordingVoice) Active(float64) bool                { return false }
func (v *recordingVoice) TriggerAttackRelease(note string, d, at float64) {
	v.triggers = append(v.triggers, trigger{note, d, at})
}

func swapVoice(t *testing.T, e *Engine, id string) *recordingVoice {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	tr := e.tracks[id]
	if tr == nil {
		t.Fatalf("no track %s", id)
	}
	rv := &recordingVoice{kind: tr.voice.Kind()}
	tr.voice = rv
	tr.src = voiceSource{rv}
	return rv
}

func renderSeconds(e *Engine, seconds float64) {
	buf := make([][2]float64, quantum)
	n := int(math.Ceil(seconds * sr / quantum))
	for i := 0; i < n; i++ {
		e.Render(buf)
	}
}

func sidechainAt(e *Engine, id string, t float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chains[id].sidechain.ValueAt(t)
}

func silentBuffer(seconds float64, rate beep.SampleRate) *beep.Buffer {
	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(beep.Silence(rate.N(time.Duration(seconds * float64(time.Second)))))
	return buf
}

func fixedLoader(seconds float64) Loader {
	return func(context.Context, string) (*beep.Buffer, error) {
		return silentBuffer(seconds, 44100), nil
	}
}

func TestParameterMappings(t *testing.T) {
	prevHz, prevSt := math.Inf(-1), math.Inf(-1)
	for i := 0; i <= 100; i++ {
		v := float64(i) / 100
		hz, st := FilterToHz(v), PitchToSemitones(v)
		if hz < 20 || hz > 20000 || hz <= prevHz {
			t.Fatalf("FilterToHz(%v) = %v not monotone within range", v, hz)
		}
		if st < -12 || st > 12 || st <= prevSt {
			t.Fatalf("PitchToSemitones(%v) = %v not monotone within range", v, st)
		}
		prevHz, prevSt = hz, st
	}
	if got := FilterToHz(0.5); got != 10010 {
		t.Errorf("FilterToHz(0.5) = %v, want 10010", got)
	}
	if !math.IsInf(VolumeToDb(0), -1) {
		t.Errorf("VolumeToDb(0) = %v, want -Inf", VolumeToDb(0))
	}
	if got := VolumeToDb(0.25); !approx(got, 0, 1e-9) {
		t.Errorf("VolumeToDb(0.25) = %v, want 0 dB", got)
	}
	if FilterToHz(7) != 20000 || PitchToSemitones(-3) != -12 {
		t.Error("out-of-range inputs should clamp")
	}
}

func TestSetParameterDispatch(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	if e.SetParameter("a", "wobble", 0.3) {
		t.Error("unknown parameter should report false")
	}
	if len(e.chains) != 0 {
		t.Error("unknown parameter should not create a chain")
	}

	for kind, v := range map[string]float64{
		"filter": 0.5, "pitch": 1, "dist": 0.3, "reverb": 0.4, "delay": 2, "volume": 0, "mute": 1,
	} {
		if !e.SetParameter("a", kind, v) {
			t.Errorf("SetParameter(%s) rejected", kind)
		}
	}
	renderSeconds(e, 0.1)

	st := e.chains["a"].state(e.Now())
	if st.Cutoff != 10010 {
		t.Errorf("cutoff = %v, want 10010", st.Cutoff)
	}
	if st.Semitones != 12 || st.Distortion != 0.3 || st.ReverbSend != 0.4 || st.DelaySend != 1 {
		t.Errorf("chain state = %+v", st)
	}
	if !math.IsInf(st.VolumeDb, -1) || !st.Muted {
		t.Errorf("volume/mute = %v/%v", st.VolumeDb, st.Muted)
	}
	if e.chains["a"].values["delay"] != 1 {
		t.Errorf("stored delay = %v, want clamped 1", e.chains["a"].values["delay"])
	}
}

func TestGetOrCreateChainIsIdempotent(t *testing.T) {
	e := New(Options{})
	defer e.Close()
	e.SetParameter("bass", "filter", 0.2)
	c := e.chains["bass"]
	if err := e.CreateLocalVoice("bass", Bass, nil, ""); err != nil {
		t.Fatal(err)
	}
	if e.chains["bass"] != c {
		t.Error("creating a voice rebuilt an existing chain")
	}
	if len(e.order) != 1 {
		t.Errorf("order = %v", e.order)
	}
}

func TestCreateLocalVoiceErrors(t *testing.T) {
	e := New(Options{})
	defer e.Close()
	if err := e.CreateLocalVoice("k", Kick, nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateLocalVoice("k", Lead, nil, ""); !errors.Is(err, ErrTrackExists) {
		t.Errorf("duplicate create err = %v, want ErrTrackExists", err)
	}
	if err := e.CreateLocalVoice("x", LoadedAsset, nil, ""); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("loaded-asset voice err = %v, want ErrUnknownCategory", err)
	}
	if err := e.LoadAndPlay(context.Background(), "y", AssetRef{URI: "a.wav"}, 0); !errors.Is(err, ErrNoLoader) {
		t.Errorf("LoadAndPlay without loader err = %v", err)
	}
	e.Remove("does-not-exist")
}

func TestVoiceStyles(t *testing.T) {
	e := New(Options{Seed: 7})
	defer e.Close()
	_ = e.CreateLocalVoice("kick", Kick, nil, "industrial techno")
	_ = e.CreateLocalVoice("bass", Bass, nil, "dark rolling")
	_ = e.CreateLocalVoice("lead", Lead, nil, "")
	_ = e.CreateLocalVoice("riser", FX, nil, "")

	want := map[string]string{"kick": "membrane", "bass": "mono", "lead": "dual-voice", "riser": ""}
	for _, info := range e.Tracks() {
		if info.Voice != want[info.ID] {
			t.Errorf("%s voice = %q, want %q", info.ID, info.Voice, want[info.ID])
		}
		switch info.ID {
		case "kick":
			if info.Notes[0] != "B0" {
				t.Errorf("industrial kick note = %s", info.Notes[0])
			}
		case "bass":
			if info.Notes[0] != "E1" || info.Pattern.String() != "x.x.x.x.x.x.x.x." {
				t.Errorf("dark bass = %s %s", info.Notes[0], info.Pattern)
			}
		case "lead":
			if len(info.Notes) != 16 {
				t.Errorf("lead melody length = %d", len(info.Notes))
			}
		case "riser":
			if info.Category != FX || info.Pattern != nil {
				t.Errorf("riser info = %+v", info)
			}
		}
	}
}

func TestSequencerTriggersOnGrid(t *testing.T) {
	e := New(Options{Tempo: 120})
	defer e.Close()
	if err := e.CreateLocalVoice("kick", Kick, nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateLocalVoice("bass", Bass, nil, ""); err != nil {
		t.Fatal(err)
	}
	kick := swapVoice(t, e, "kick")
	bass := swapVoice(t, e, "bass")

	e.Start()
	renderSeconds(e, 1.99) // one bar at 120 BPM is 2 s

	if len(kick.triggers) != 4 {
		t.Fatalf("kick triggered %d times, want 4", len(kick.triggers))
	}
	for i, tg := range kick.triggers {
		if !approx(tg.at, float64(i)*0.5, 1.5/sr) {
			t.Errorf("kick %d at %v, want %v", i, tg.at, float64(i)*0.5)
		}
		if !approx(tg.duration, 0.25, 1e-9) || tg.note != "C1" {
			t.Errorf("kick %d = %+v", i, tg)
		}
	}
	if len(bass.triggers) != 8 {
		t.Fatalf("bass triggered %d times, want 8", len(bass.triggers))
	}
	if !approx(bass.triggers[0].duration, 0.125, 1e-9) {
		t.Errorf("bass note length = %v, want 16n", bass.triggers[0].duration)
	}
}

func TestPatternMutationKeepsPhase(t *testing.T) {
	e := New(Options{Tempo: 120})
	defer e.Close()
	_ = e.CreateLocalVoice("a", Percussion, nil, "")
	a := swapVoice(t, e, "a")
	e.Start()
	renderSeconds(e, 0.6) // steps 0..4 at 0.125 s per step

	_ = e.CreateLocalVoice("b", Percussion, nil, "")
	b := swapVoice(t, e, "b")
	all := pattern.FromBools([]bool{true})
	if err := e.SetPattern("a", all); err != nil {
		t.Fatal(err)
	}
	before := len(a.triggers)
	renderSeconds(e, 0.6)

	// a now fires on every step, b only on the shared four-on-the-floor grid.
	if got := len(a.triggers) - before; got < 4 {
		t.Errorf("a fired %d times after mutation, want every step", got)
	}
	for _, tg := range b.triggers {
		step := int(math.Round(tg.at / 0.125))
		if step%4 != 0 {
			t.Errorf("b fired at %v (step %d), off the shared grid", tg.at, step)
		}
	}
	if len(b.triggers) == 0 {
		t.Fatal("b never fired")
	}
	var matched bool
	for _, ta := range a.triggers {
		if approx(ta.at, b.triggers[0].at, 1e-12) {
			matched = true
		}
	}
	if !matched {
		t.Error("a and b do not share grid times")
	}
	if err := e.SetPattern("nope", all); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPattern unknown = %v", err)
	}
}

func TestDuckingEnvelope(t *testing.T) {
	e := New(Options{Tempo: 128})
	defer e.Close()
	_ = e.CreateLocalVoice("kick", Kick, nil, "")
	_ = e.CreateLocalVoice("bass", Bass, nil, "")
	e.Start()
	renderSeconds(e, 0.02) // kick on tick 0 at t=0

	release := 30 / 128.0
	if got := sidechainAt(e, "bass", -1e-6); got != 1 {
		t.Errorf("bass gain before onset = %v, want 1", got)
	}
	if got := sidechainAt(e, "bass", 0.05); !approx(got, 0.5, 1e-9) {
		t.Errorf("bass gain after attack = %v, want 0.5", got)
	}
	if got := sidechainAt(e, "bass", release); !approx(got, 1, 1e-9) {
		t.Errorf("bass gain at release = %v, want 1", got)
	}
	if got := sidechainAt(e, "kick", 0.05); got != 1 {
		t.Errorf("kick gain = %v, kick must not duck itself", got)
	}
}

func TestRemoveMidDuckLeavesOthersRecovering(t *testing.T) {
	e := New(Options{Tempo: 128})
	defer e.Close()
	_ = e.CreateLocalVoice("kick", Kick, nil, "")
	_ = e.CreateLocalVoice("bass", Bass, nil, "")
	_ = e.CreateLocalVoice("lead", Lead, nil, "")
	e.Start()
	renderSeconds(e, 0.06)

	if got := sidechainAt(e, "lead", e.Now()); got >= 1 {
		t.Fatalf("lead not ducked mid-ramp: %v", got)
	}
	e.Remove("bass")
	e.Remove("kick")

	release := 30 / 128.0
	if got := sidechainAt(e, "lead", release); !approx(got, 1, 1e-9) {
		t.Errorf("lead gain at release = %v, want 1", got)
	}
	renderSeconds(e, 0.5)
	if got := sidechainAt(e, "lead", e.Now()); !approx(got, 1, 1e-9) {
		t.Errorf("lead gain after removal = %v, want 1", got)
	}
	if _, ok := e.chains["bass"]; ok {
		t.Error("removed chain still wired")
	}
}

func TestPumpResetsSidechain(t *testing.T) {
	e := New(Options{})
	defer e.Close()
	e.SetParameter("bass", "volume", 0.5)
	e.mu.Lock()
	e.chains["bass"].sidechain.Set(0.3, 0)
	e.mu.Unlock()
	e.SetParameter("bass", "pump", 1)
	renderSeconds(e, 0.1)
	if got := sidechainAt(e, "bass", e.Now()); got != 1 {
		t.Errorf("sidechain after pump = %v, want 1", got)
	}
}

func TestEstimateNativeTempo(t *testing.T) {
	tests := []struct {
		name      string
		duration  float64
		tempo     float64
		generated bool
		hint      float64
		want      float64
	}{
		{"library hint", 7.6, 128, false, 124, 124},
		{"library default", 7.6, 128, false, 0, 126},
		{"generated long", 10, 128, true, 0, 96},
		{"generated short", 4, 128, true, 0, 120},
		{"generated boundary", 5.625, 128, true, 0, 8 / 5.625 * 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateNativeTempo(tt.duration, tt.tempo, tt.generated, tt.hint)
			if !approx(got, tt.want, 1e-9) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if !(AssetRef{URI: "data:audio/wav;base64,AAAA"}).IsGenerated() ||
		!(AssetRef{URI: "http://host/api/generate?id=1"}).IsGenerated() ||
		(AssetRef{URI: "loops/a.wav"}).IsGenerated() {
		t.Error("IsGenerated misclassified")
	}
}

func TestBindingRateFollowsTempo(t *testing.T) {
	e := New(Options{Tempo: 128, Loader: fixedLoader(2)})
	defer e.Close()
	if err := e.LoadAndPlay(context.Background(), "loop", AssetRef{URI: "loops/a.wav"}, 126); err != nil {
		t.Fatal(err)
	}
	rate := func() float64 { return e.Tracks()[0].Rate }
	if !approx(rate(), 128.0/126, 1e-12) {
		t.Errorf("rate = %v, want %v", rate(), 128.0/126)
	}
	e.SetTempo(140)
	if !approx(rate(), 140.0/126, 1e-12) {
		t.Errorf("rate = %v, want %v", rate(), 140.0/126)
	}
	e.SetTempo(140)
	if !approx(rate(), 140.0/126, 1e-12) {
		t.Errorf("reapplied rate = %v", rate())
	}
	info := e.Tracks()[0]
	if info.State != SyncedIdle || info.Category != LoadedAsset {
		t.Errorf("info = %+v", info)
	}
}

func TestBindingStartsOnTransportStart(t *testing.T) {
	e := New(Options{Tempo: 120, Loader: fixedLoader(1)})
	defer e.Close()
	_ = e.LoadAndPlay(context.Background(), "loop", AssetRef{URI: "a.wav"}, 120)
	renderSeconds(e, 0.1)
	if st := e.Tracks()[0].State; st != SyncedIdle {
		t.Fatalf("state before start = %v", st)
	}
	e.Start()
	renderSeconds(e, 0.02)
	if st := e.Tracks()[0].State; st != Playing {
		t.Fatalf("state after start = %v, want playing", st)
	}
	e.Stop()
	if st := e.Tracks()[0].State; st != SyncedIdle {
		t.Errorf("state after stop = %v, want synced-idle", st)
	}
}

func TestBindingQuantizedStart(t *testing.T) {
	e := New(Options{Tempo: 120, Loader: fixedLoader(1)})
	defer e.Close()
	e.Start()
	renderSeconds(e, 0.5)
	_ = e.LoadAndPlay(context.Background(), "loop", AssetRef{URI: "a.wav"}, 120)

	renderSeconds(e, 1.4) // now ~1.9 s, bar 2 starts at 2.0 s
	if st := e.Tracks()[0].State; st != SyncedIdle {
		t.Fatalf("started before the bar line: %v", st)
	}
	renderSeconds(e, 0.2)
	if st := e.Tracks()[0].State; st != Playing {
		t.Fatalf("state after bar line = %v, want playing", st)
	}
	e.mu.Lock()
	start := e.tracks["loop"].binding.startFrame
	e.mu.Unlock()
	if !approx(float64(start), 2*sr, 1) {
		t.Errorf("start frame = %d, want %v", start, 2*sr)
	}
}

func TestLoadFailureAllowsFallback(t *testing.T) {
	boom := errors.New("decode failed")
	e := New(Options{Loader: func(context.Context, string) (*beep.Buffer, error) { return nil, boom }})
	defer e.Close()
	err := e.LoadAndPlay(context.Background(), "t1", AssetRef{URI: "bad.wav"}, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped decode error", err)
	}
	info := e.Tracks()[0]
	if info.State != Loading {
		t.Errorf("failed binding state = %v, want loading", info.State)
	}
	renderSeconds(e, 0.05) // chain stays intact and silent

	if err := e.CreateLocalVoice("t1", Lead, nil, ""); err != nil {
		t.Fatalf("fallback voice: %v", err)
	}
	if got := e.Tracks()[0]; got.Category != Lead || got.Asset != nil {
		t.Errorf("fallback track = %+v", got)
	}
}

func TestRemoveDuringLoad(t *testing.T) {
	release := make(chan struct{})
	e := New(Options{Loader: func(ctx context.Context, _ string) (*beep.Buffer, error) {
		<-release
		return silentBuffer(1, 48000), nil
	}})
	defer e.Close()

	done := make(chan error, 1)
	go func() { done <- e.LoadAndPlay(context.Background(), "t", AssetRef{URI: "a.wav"}, 0) }()
	for len(e.Tracks()) == 0 {
		time.Sleep(time.Millisecond)
	}
	e.Remove("t")
	close(release)
	if err := <-done; !errors.Is(err, ErrTrackRemoved) {
		t.Errorf("err = %v, want ErrTrackRemoved", err)
	}
	if len(e.Tracks()) != 0 {
		t.Error("removed track resurrected by load")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := New(Options{Tempo: 134, Loader: fixedLoader(2), Seed: 3})
	defer src.Close()
	p, _ := pattern.Parse("x.x.x...x.x.x...")
	_ = src.CreateLocalVoice("kick", Kick, &p, "industrial")
	_ = src.CreateLocalVoice("lead", Lead, nil, "")
	_ = src.CreateNoiseRiser("fx", 8)
	_ = src.LoadAndPlay(ctx, "loop", AssetRef{URI: "loops/x.wav"}, 124)
	src.SetParameter("lead", "filter", 0.25)
	src.SetParameter("lead", "reverb", 0.6)
	src.SetParameter("loop", "volume", 0.8)
	src.SetParameter("kick", "mute", 1)

	snap := src.Snapshot()

	dst := New(Options{Loader: fixedLoader(2), Seed: 99})
	defer dst.Close()
	if err := dst.Restore(ctx, snap); err != nil {
		t.Fatal(err)
	}
	got := dst.Snapshot()
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}
	renderSeconds(dst, 0.1)
	st := dst.Tracks()[1].Chain
	if st.Cutoff != FilterToHz(0.25) || st.ReverbSend != 0.6 {
		t.Errorf("restored lead chain = %+v", st)
	}
}

func TestRenderProducesBoundedAudio(t *testing.T) {
	e := New(Options{Tempo: 128})
	defer e.Close()
	_ = e.CreateLocalVoice("kick", Kick, nil, "")
	_ = e.CreateLocalVoice("bass", Bass, nil, "")
	e.SetParameter("bass", "reverb", 1)
	e.SetParameter("bass", "delay", 1)
	e.Start()

	buf := make([][2]float64, quantum)
	ceiling := ugen.DbToGain(LimiterThreshold) + 1e-9
	var energy float64
	for i := 0; i < 50; i++ {
		e.Render(buf)
		for _, s := range buf {
			if math.Abs(s[0]) > ceiling || math.Abs(s[1]) > ceiling {
				t.Fatalf("sample %v exceeds limiter ceiling", s)
			}
			energy += s[0] * s[0]
		}
	}
	if energy == 0 {
		t.Fatal("engine rendered silence")
	}
	if l := e.Levels(); len(l.Bands) != meterBands || l.RMSDb <= ugen.MinDb {
		t.Errorf("levels = %+v", l)
	}
}

func TestCloseSilences(t *testing.T) {
	e := New(Options{})
	_ = e.CreateLocalVoice("kick", Kick, nil, "")
	e.Start()
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	buf := make([][2]float64, quantum)
	buf[0] = [2]float64{1, 1}
	e.Render(buf)
	if buf[0] != [2]float64{} {
		t.Error("closed engine should render silence")
	}
	if err := e.CreateLocalVoice("x", Kick, nil, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("create after close = %v", err)
	}
}
