package session

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/satindergrewal/pulseforge/internal/engine"
	"github.com/satindergrewal/pulseforge/internal/pattern"
)

func sample(t *testing.T) engine.Session {
	t.Helper()
	lead, err := pattern.Parse("x..x..x.x..x.x..")
	if err != nil {
		t.Fatal(err)
	}
	return engine.Session{
		Tempo: 140,
		Tracks: []engine.TrackState{
			{ID: "kick", Category: engine.Kick, Style: "industrial", Pattern: pattern.Default("kick"),
				Notes: []string{"B0"}, Params: map[string]float64{"volume": 0.8}},
			{ID: "lead", Category: engine.Lead, Pattern: lead,
				Notes: []string{"C4", "Eb4", "G4"}, Params: map[string]float64{"reverb": 0.4, "pump": 1}},
			{ID: "loop", Category: engine.LoadedAsset, Asset: &engine.AssetRef{URI: "loops/a.wav"}, TempoHint: 124},
			{ID: "rise", Category: engine.FX, Bars: 8},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "sessions"))
	want := sample(t)
	path, err := st.Save("set-one", want)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "set-one.yaml" {
		t.Errorf("path = %q", path)
	}
	got, err := st.Load("set-one.yaml")
	if err != nil {
		t.Fatal(err)
	}
	// Sequencer-less tracks come back with their category default pattern.
	want.Tracks[2].Pattern = pattern.Default(string(engine.LoadedAsset))
	want.Tracks[3].Pattern = pattern.Default(string(engine.FX))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch\ngot  %+v\nwant %+v", got, want)
	}

	names, err := st.List()
	if err != nil || !reflect.DeepEqual(names, []string{"set-one"}) {
		t.Errorf("List = %v, %v", names, err)
	}
}

func TestPatternStoredAsString(t *testing.T) {
	data, err := Marshal(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "pattern: x...x...x...x...") {
		t.Errorf("kick pattern not written as a step string:\n%s", data)
	}
	if !strings.Contains(string(data), "notes: [C4, Eb4, G4]") {
		t.Errorf("notes not written in flow style:\n%s", data)
	}
}

func TestUnmarshalDefaultsAndErrors(t *testing.T) {
	s, err := Unmarshal([]byte("tracks:\n  - id: k\n    category: kick\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Tempo != DefaultTempo {
		t.Errorf("Tempo = %v, want %v", s.Tempo, DefaultTempo)
	}
	if s.Tracks[0].Pattern != pattern.Default("kick") {
		t.Errorf("missing pattern should take the category default")
	}

	tests := map[string]string{
		"bad category": "tracks:\n  - id: k\n    category: banjo\n",
		"bad pattern":  "tracks:\n  - id: k\n    category: kick\n    pattern: xx\n",
		"missing id":   "tracks:\n  - category: kick\n",
		"not yaml":     "tracks: [",
	}
	for name, doc := range tests {
		if _, err := Unmarshal([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Unmarshal([]byte("tracks:\n  - id: k\n    category: banjo\n")); !errors.Is(err, engine.ErrUnknownCategory) {
		t.Errorf("bad category err = %v", err)
	}
}

func TestStoreNames(t *testing.T) {
	st := NewStore(t.TempDir())
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := st.Save(name, engine.Session{}); !errors.Is(err, ErrBadName) {
			t.Errorf("Save(%q) err = %v", name, err)
		}
	}
	if _, err := st.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) err = %v", err)
	}
	empty := NewStore(filepath.Join(t.TempDir(), "nope"))
	if names, err := empty.List(); err != nil || names != nil {
		t.Errorf("List on missing dir = %v, %v", names, err)
	}
	os.WriteFile(filepath.Join(st.Dir, "readme.txt"), nil, 0o644)
	if names, _ := st.List(); len(names) != 0 {
		t.Errorf("List picked up non-session files: %v", names)
	}
}
