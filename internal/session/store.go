// Package session saves and restores engine sessions as YAML files.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/pulseforge/internal/engine"
	"github.com/satindergrewal/pulseforge/internal/pattern"
)

// DefaultTempo is used for records that carry no tempo.
const DefaultTempo = 128

const ext = ".yaml"

var (
	ErrBadName  = errors.New("session: invalid name")
	ErrNotFound = errors.New("session: not found")
)

// Record is the on-disk form of a session.
type Record struct {
	Tempo  float64       `yaml:"tempo"`
	Tracks []TrackRecord `yaml:"tracks"`
}

// TrackRecord is the on-disk form of one track.
type TrackRecord struct {
	ID        string             `yaml:"id"`
	Category  string             `yaml:"category"`
	Style     string             `yaml:"style,omitempty"`
	Pattern   string             `yaml:"pattern,omitempty"`
	Notes     []string           `yaml:"notes,omitempty,flow"`
	Asset     *AssetRecord       `yaml:"asset,omitempty"`
	TempoHint float64            `yaml:"tempo_hint,omitempty"`
	Bars      int                `yaml:"bars,omitempty"`
	Params    map[string]float64 `yaml:"params,omitempty"`
}

// AssetRecord references loaded audio.
type AssetRecord struct {
	URI       string `yaml:"uri"`
	Generated bool   `yaml:"generated,omitempty"`
}

// FromSession converts an engine snapshot into a record.
func FromSession(s engine.Session) Record {
	r := Record{Tempo: s.Tempo}
	for _, ts := range s.Tracks {
		tr := TrackRecord{
			ID:        ts.ID,
			Category:  string(ts.Category),
			Style:     ts.Style,
			Notes:     ts.Notes,
			TempoHint: ts.TempoHint,
			Bars:      ts.Bars,
			Params:    ts.Params,
		}
		if ts.Category != engine.LoadedAsset && ts.Category != engine.FX {
			tr.Pattern = ts.Pattern.String()
		}
		if ts.Asset != nil {
			tr.Asset = &AssetRecord{URI: ts.Asset.URI, Generated: ts.Asset.Generated}
		}
		r.Tracks = append(r.Tracks, tr)
	}
	return r
}

// Session converts r back into an engine session.
func (r Record) Session() (engine.Session, error) {
	s := engine.Session{Tempo: r.Tempo}
	if s.Tempo <= 0 {
		s.Tempo = DefaultTempo
	}
	for i, tr := range r.Tracks {
		if tr.ID == "" {
			return engine.Session{}, fmt.Errorf("track %d: missing id", i)
		}
		cat, ok := engine.ParseCategory(tr.Category)
		if !ok {
			return engine.Session{}, fmt.Errorf("track %s: %w: %q", tr.ID, engine.ErrUnknownCategory, tr.Category)
		}
		ts := engine.TrackState{
			ID:        tr.ID,
			Category:  cat,
			Style:     tr.Style,
			Notes:     tr.Notes,
			TempoHint: tr.TempoHint,
			Bars:      tr.Bars,
			Params:    tr.Params,
		}
		if tr.Pattern != "" {
			p, err := pattern.Parse(tr.Pattern)
			if err != nil {
				return engine.Session{}, fmt.Errorf("track %s: %w", tr.ID, err)
			}
			ts.Pattern = p
		} else {
			ts.Pattern = pattern.Default(string(cat))
		}
		if tr.Asset != nil {
			ts.Asset = &engine.AssetRef{URI: tr.Asset.URI, Generated: tr.Asset.Generated}
		}
		s.Tracks = append(s.Tracks, ts)
	}
	return s, nil
}

// Marshal encodes a session as YAML.
func Marshal(s engine.Session) ([]byte, error) {
	return yaml.Marshal(FromSession(s))
}

// Unmarshal decodes YAML into a session.
func Unmarshal(data []byte) (engine.Session, error) {
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return engine.Session{}, fmt.Errorf("parse session: %w", err)
	}
	return r.Session()
}

// Store keeps named sessions in a directory.
type Store struct {
	Dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store { return &Store{Dir: dir} }

func (st *Store) path(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ext)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(st.Dir, name+ext), nil
}

// Save writes s under name, creating the directory as needed.
func (st *Store) Save(name string, s engine.Session) (string, error) {
	path, err := st.path(name)
	if err != nil {
		return "", err
	}
	data, err := Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(st.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write session: %w", err)
	}
	return path, nil
}

// Load reads the session saved under name.
func (st *Store) Load(name string) (engine.Session, error) {
	path, err := st.path(name)
	if err != nil {
		return engine.Session{}, err
	}
	return LoadFile(path)
}

// LoadFile reads a session from any path.
func LoadFile(path string) (engine.Session, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return engine.Session{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return engine.Session{}, fmt.Errorf("read session: %w", err)
	}
	return Unmarshal(data)
}

// List returns saved session names in order.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ext {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	sort.Strings(names)
	return names, nil
}
