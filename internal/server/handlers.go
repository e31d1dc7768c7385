package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/satindergrewal/pulseforge/internal/engine"
	"github.com/satindergrewal/pulseforge/internal/forge"
	"github.com/satindergrewal/pulseforge/internal/pattern"
)

// trackView is the JSON form of engine.TrackInfo.
type trackView struct {
	ID          string             `json:"id"`
	Category    engine.Category    `json:"category"`
	Style       string             `json:"style,omitempty"`
	Voice       string             `json:"voice,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
	Notes       []string           `json:"notes,omitempty"`
	Asset       string             `json:"asset,omitempty"`
	Generated   bool               `json:"generated,omitempty"`
	State       string             `json:"state,omitempty"`
	NativeTempo float64            `json:"native_tempo,omitempty"`
	Rate        float64            `json:"rate,omitempty"`
	Params      map[string]float64 `json:"params"`
	Chain       chainView          `json:"chain"`
}

type chainView struct {
	Semitones  float64 `json:"semitones"`
	Cutoff     float64 `json:"cutoff_hz"`
	Distortion float64 `json:"distortion"`
	Sidechain  float64 `json:"sidechain"`
	VolumeDb   float64 `json:"volume_db"`
	Muted      bool    `json:"muted"`
	ReverbSend float64 `json:"reverb_send"`
	DelaySend  float64 `json:"delay_send"`
}

func viewOf(t engine.TrackInfo) trackView {
	v := trackView{
		ID:       t.ID,
		Category: t.Category,
		Style:    t.Style,
		Voice:    t.Voice,
		Notes:    t.Notes,
		Params:   t.Params,
		Chain: chainView{
			Semitones:  t.Chain.Semitones,
			Cutoff:     t.Chain.Cutoff,
			Distortion: t.Chain.Distortion,
			Sidechain:  t.Chain.Sidechain,
			VolumeDb:   finite(t.Chain.VolumeDb),
			Muted:      t.Chain.Muted,
			ReverbSend: t.Chain.ReverbSend,
			DelaySend:  t.Chain.DelaySend,
		},
	}
	if t.Pattern != nil {
		v.Pattern = t.Pattern.String()
	}
	if t.Asset != nil {
		v.Asset = t.Asset.URI
		v.Generated = t.Asset.IsGenerated()
		v.State = t.State.String()
		v.NativeTempo = t.NativeTempo
		v.Rate = t.Rate
	}
	return v
}

// finite replaces -Inf dB (silence) with a JSON-encodable floor.
func finite(db float64) float64 {
	if db < -200 {
		return -200
	}
	return db
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e := s.deps.Engine
	out := map[string]any{
		"running":     e.Running(),
		"tempo":       e.Tempo(),
		"time":        e.Now(),
		"sample_rate": e.SampleRate(),
		"tracks":      len(e.Tracks()),
		"uptime":      time.Since(s.started).Seconds(),
	}
	if b := s.deps.Broadcaster; b != nil {
		out["stream"] = b.Stats()
	}
	if pc, ok := s.deps.Offer.(interface{ PeerCount() int }); ok {
		out["webrtc_peers"] = pc.PeerCount()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	lv := s.deps.Engine.Levels()
	lv.PeakDb[0], lv.PeakDb[1] = finite(lv.PeakDb[0]), finite(lv.PeakDb[1])
	lv.RMSDb = finite(lv.RMSDb)
	for i, b := range lv.Bands {
		lv.Bands[i] = finite(b)
	}
	writeJSON(w, http.StatusOK, lv)
}

func (s *Server) handleParameterNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, engine.ParameterNames())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.Start()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": false})
}

func (s *Server) handleTempo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BPM float64 `json:"bpm"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.BPM <= 0 {
		http.Error(w, "bpm must be positive", http.StatusBadRequest)
		return
	}
	bpm := s.deps.Engine.SetTempo(req.BPM)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bpm": bpm})
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks := s.deps.Engine.Tracks()
	out := make([]trackView, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, viewOf(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.Remove(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Category string `json:"category"`
		Pattern  string `json:"pattern"`
		Style    string `json:"style"`
	}
	if !decode(w, r, &req) {
		return
	}
	cat, ok := engine.ParseCategory(req.Category)
	if !ok || cat == engine.LoadedAsset {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", engine.ErrUnknownCategory, req.Category))
		return
	}
	var p *pattern.Pattern
	if req.Pattern != "" {
		parsed, err := pattern.Parse(req.Pattern)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p = &parsed
	}
	if err := s.deps.Engine.CreateLocalVoice(id, cat, p, req.Style); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "category": cat})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		URI       string  `json:"uri"`
		Generated bool    `json:"generated"`
		TempoHint float64 `json:"tempo_hint"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.URI == "" {
		http.Error(w, "uri required", http.StatusBadRequest)
		return
	}
	ref := engine.AssetRef{URI: req.URI, Generated: req.Generated}
	if err := s.deps.Engine.LoadAndPlay(r.Context(), id, ref, req.TempoHint); err != nil {
		// A failed decode leaves the binding loading; the client may fall
		// back to a local voice on the same id.
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id})
}

func (s *Server) handleRiser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Bars int `json:"bars"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := s.deps.Engine.CreateNoiseRiser(id, req.Bars); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req map[string]float64
	if !decode(w, r, &req) {
		return
	}
	applied := map[string]float64{}
	var ignored []string
	for k, v := range req {
		if s.deps.Engine.SetParameter(id, k, v) {
			applied[k] = v
		} else {
			ignored = append(ignored, k)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "applied": applied, "ignored": ignored})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := s.deps.Forge.Command(r.Context(), chi.URLParam(r, "id"), req.Command)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Pattern string `json:"pattern"`
		Steps   []bool `json:"steps"`
	}
	if !decode(w, r, &req) {
		return
	}
	var p pattern.Pattern
	switch {
	case req.Pattern != "":
		parsed, err := pattern.Parse(req.Pattern)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p = parsed
	case len(req.Steps) > 0:
		p = pattern.FromBools(req.Steps)
	default:
		http.Error(w, "pattern or steps required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Engine.SetPattern(id, p); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pattern": p.String()})
}

func (s *Server) handleForge(w http.ResponseWriter, r *http.Request) {
	var req forge.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := s.deps.Forge.Forge(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleForgeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Forge.Status())
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	lib := s.deps.Library
	if lib == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	if c := r.URL.Query().Get("category"); c != "" {
		writeJSON(w, http.StatusOK, lib.ByCategory(c))
		return
	}
	writeJSON(w, http.StatusOK, lib.Loops)
}

type sessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	names, err := s.deps.Sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSessionSave(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	path, err := s.deps.Sessions.Save(req.Name, s.deps.Engine.Snapshot())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}

func (s *Server) handleSessionLoad(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.deps.Sessions.Load(req.Name)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	// Partial restores still report success with the per-track failures.
	out := map[string]any{"ok": true, "tempo": sess.Tempo, "tracks": len(sess.Tracks)}
	if err := s.deps.Engine.Restore(r.Context(), sess); err != nil {
		if errors.Is(err, engine.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		out["errors"] = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}
