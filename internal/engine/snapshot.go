package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/satindergrewal/pulseforge/internal/pattern"
)

// TrackState is everything needed to rebuild a track.
type TrackState struct {
	ID        string
	Category  Category
	Style     string
	Pattern   pattern.Pattern
	Notes     []string
	Asset     *AssetRef
	TempoHint float64
	Bars      int
	Params    map[string]float64
}

// Session is the reconstructable state of an engine.
type Session struct {
	Tempo  float64
	Tracks []TrackState
}

// Snapshot captures the tempo and every track in creation order.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Session{Tempo: e.transport.Tempo()}
	for _, id := range e.order {
		tr, ok := e.tracks[id]
		if !ok {
			continue
		}
		ts := TrackState{
			ID:       id,
			Category: tr.category,
			Style:    tr.style,
			Bars:     tr.bars,
			Params:   cloneParams(e.chains[id].values),
		}
		if tr.seq != nil {
			ts.Pattern = tr.seq.pattern
			ts.Notes = slices.Clone(tr.seq.notes)
		}
		if b := tr.binding; b != nil {
			ref := b.Ref
			ts.Asset = &ref
			ts.TempoHint = b.Hint
		}
		s.Tracks = append(s.Tracks, ts)
	}
	return s
}

// Restore replaces every track with the ones in s. Asset load failures do
// not stop the restore; they are joined into the returned error and leave
// the track's binding loading.
func (e *Engine) Restore(ctx context.Context, s Session) error {
	e.mu.Lock()
	for _, id := range slices.Clone(e.order) {
		e.remove(id)
	}
	e.mu.Unlock()

	if s.Tempo > 0 {
		e.SetTempo(s.Tempo)
	}

	var errs []error
	for _, ts := range s.Tracks {
		if err := e.restoreTrack(ctx, ts); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", ts.ID, err))
		}
		keys := make([]string, 0, len(ts.Params))
		for k := range ts.Params {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			e.SetParameter(ts.ID, k, ts.Params[k])
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) restoreTrack(ctx context.Context, ts TrackState) error {
	switch ts.Category {
	case LoadedAsset:
		if ts.Asset == nil {
			return fmt.Errorf("loaded-asset track without asset reference")
		}
		return e.LoadAndPlay(ctx, ts.ID, *ts.Asset, ts.TempoHint)
	case FX:
		return e.createRiser(ts.ID, ts.Bars, ts.Style)
	}
	p := ts.Pattern
	if err := e.CreateLocalVoice(ts.ID, ts.Category, &p, ts.Style); err != nil {
		return err
	}
	if len(ts.Notes) > 0 {
		return e.SetNotes(ts.ID, ts.Notes)
	}
	return nil
}
