// Package loops indexes a directory of pre-made WAV loops.
//
// Loops live in per-category folders ("Bass Loops/", "Kick Loops/") and are
// named "<pack> - <title> - <key> - <bpm> BPM.wav".
package loops

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultBPM is assumed when a file name carries no tempo.
const DefaultBPM = 126

// IndexFile is the name of the JSON index written into the loops directory.
const IndexFile = "library.json"

// Loop is one indexed file.
type Loop struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Path     string `json:"path"` // relative to the library root, slash separated
	Key      string `json:"key"`
	BPM      int    `json:"bpm"`
}

// Library is an in-memory loop index rooted at Dir.
type Library struct {
	Dir   string
	Loops []Loop
}

// ParseName extracts the key and tempo from a loop file name (without
// extension). Names with fewer than four " - " parts get "N/A" and
// DefaultBPM.
func ParseName(name string) (key string, bpm int) {
	key, bpm = "N/A", DefaultBPM
	parts := strings.Split(name, " - ")
	if len(parts) < 4 {
		return key, bpm
	}
	key = strings.TrimSpace(parts[len(parts)-2])
	tempo := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[len(parts)-1]), "BPM"))
	if n, err := strconv.Atoi(tempo); err == nil && n > 0 {
		bpm = n
	}
	return key, bpm
}

func categoryOf(dir string) string {
	c := filepath.Base(dir)
	c = strings.TrimSuffix(c, " Loops")
	return strings.ToLower(strings.TrimSpace(c))
}

// Scan walks dir for .wav files.
func Scan(dir string) (*Library, error) {
	lib := &Library{Dir: dir}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key, bpm := ParseName(name)
		lib.Loops = append(lib.Loops, Loop{
			ID:       strings.ToLower(strings.ReplaceAll(name, " ", "_")),
			Name:     name,
			Category: categoryOf(filepath.Dir(path)),
			Path:     filepath.ToSlash(rel),
			Key:      key,
			BPM:      bpm,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan loops %s: %w", dir, err)
	}
	sort.Slice(lib.Loops, func(i, j int) bool { return lib.Loops[i].Path < lib.Loops[j].Path })
	return lib, nil
}

// Open reads the index in dir, scanning when there is none.
func Open(dir string) (*Library, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if os.IsNotExist(err) {
		return Scan(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read loop index: %w", err)
	}
	lib := &Library{Dir: dir}
	if err := json.Unmarshal(data, &lib.Loops); err != nil {
		return nil, fmt.Errorf("parse loop index: %w", err)
	}
	return lib, nil
}

// WriteIndex stores the library as IndexFile in its directory.
func (l *Library) WriteIndex() (string, error) {
	data, err := json.MarshalIndent(l.Loops, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.Dir, IndexFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write loop index: %w", err)
	}
	return path, nil
}

// categoryAliases maps command vocabulary onto folder categories.
var categoryAliases = map[string][]string{
	"drum":  {"drum", "kick", "percussion", "top"},
	"drums": {"drum", "kick", "percussion", "top"},
	"hat":   {"hat", "top", "percussion"},
	"synth": {"synth", "lead"},
	"lead":  {"lead", "synth"},
}

// ByCategory returns loops whose category matches c or one of its aliases.
func (l *Library) ByCategory(c string) []Loop {
	if l == nil {
		return nil
	}
	c = strings.ToLower(strings.TrimSpace(c))
	want := categoryAliases[c]
	if want == nil {
		want = []string{c}
	}
	var out []Loop
	for _, lp := range l.Loops {
		for _, w := range want {
			if strings.Contains(lp.Category, w) {
				out = append(out, lp)
				break
			}
		}
	}
	return out
}

// Pick returns a random loop of category c.
func (l *Library) Pick(rng *rand.Rand, c string) (Loop, bool) {
	matches := l.ByCategory(c)
	if len(matches) == 0 {
		return Loop{}, false
	}
	return matches[rng.IntN(len(matches))], true
}

// Abs returns the filesystem path of lp.
func (l *Library) Abs(lp Loop) string {
	return filepath.Join(l.Dir, filepath.FromSlash(lp.Path))
}
