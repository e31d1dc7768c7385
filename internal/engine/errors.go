package engine

import "errors"

var (
	// ErrTrackExists is returned when creating a source over a track that
	// already has a live one.
	ErrTrackExists = errors.New("engine: track already exists")
	// ErrUnknownCategory is returned for categories that have no local voice.
	ErrUnknownCategory = errors.New("engine: unknown track category")
	// ErrNoLoader is returned by LoadAndPlay when the engine has no asset loader.
	ErrNoLoader = errors.New("engine: no asset loader configured")
	// ErrTrackRemoved is returned when a track disappears while its asset loads.
	ErrTrackRemoved = errors.New("engine: track removed during load")
	// ErrNotFound is returned for operations that need an existing track.
	ErrNotFound = errors.New("engine: track not found")
	// ErrNotSequenced is returned when setting a pattern on a track without a sequencer.
	ErrNotSequenced = errors.New("engine: track has no step sequencer")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine: closed")
)
