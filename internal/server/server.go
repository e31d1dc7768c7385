// Package server exposes the engine, forge and session store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/satindergrewal/pulseforge/internal/engine"
	"github.com/satindergrewal/pulseforge/internal/forge"
	"github.com/satindergrewal/pulseforge/internal/loops"
	"github.com/satindergrewal/pulseforge/internal/session"
	"github.com/satindergrewal/pulseforge/internal/stream"
)

// Deps are the collaborators the API serves. Library, Broadcaster, Stream
// and Offer may be nil.
type Deps struct {
	Engine      *engine.Engine
	Forge       *forge.Forge
	Library     *loops.Library
	Sessions    *session.Store
	Broadcaster *stream.Broadcaster
	Stream      http.Handler // MP3
	Offer       http.Handler // WebRTC signaling
}

// Server is the HTTP API.
type Server struct {
	deps    Deps
	started time.Time
}

// New creates a server.
func New(deps Deps) *Server {
	return &Server{deps: deps, started: time.Now()}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if s.deps.Stream != nil {
		r.Method(http.MethodGet, "/stream", s.deps.Stream)
	}
	if s.deps.Offer != nil {
		r.Method(http.MethodPost, "/offer", s.deps.Offer)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Minute))

		r.Get("/status", s.handleStatus)
		r.Get("/levels", s.handleLevels)
		r.Get("/parameters", s.handleParameterNames)

		r.Post("/transport/start", s.handleStart)
		r.Post("/transport/stop", s.handleStop)
		r.Post("/tempo", s.handleTempo)

		r.Post("/forge", s.handleForge)
		r.Get("/forge", s.handleForgeStatus)

		r.Get("/library", s.handleLibrary)

		r.Route("/tracks", func(r chi.Router) {
			r.Get("/", s.handleTracks)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleRemove)
				r.Post("/voice", s.handleVoice)
				r.Post("/load", s.handleLoad)
				r.Post("/riser", s.handleRiser)
				r.Post("/params", s.handleParams)
				r.Post("/command", s.handleCommand)
				r.Put("/pattern", s.handlePattern)
			})
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSessionList)
			r.Post("/save", s.handleSessionSave)
			r.Post("/load", s.handleSessionLoad)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("pulseforge live on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrTrackExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnknownCategory), errors.Is(err, engine.ErrNotSequenced),
		errors.Is(err, session.ErrBadName), errors.Is(err, forge.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}
