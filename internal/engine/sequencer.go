package engine

import "github.com/satindergrewal/pulseforge/internal/pattern"

// sequencer drives one synthesis track from the shared clock. It keeps no
// step counter of its own; the step always comes from the tick event.
type sequencer struct {
	pattern    pattern.Pattern
	notes      []string
	noteLength float64 // beats
}

func (s *sequencer) note(step int) string {
	if len(s.notes) == 0 {
		return ""
	}
	return s.notes[step%len(s.notes)]
}

// subscribeSequencer registers tr's step callback. Called with e.mu held.
func (e *Engine) subscribeSequencer(tr *track) {
	tr.unsubscribe = e.transport.Subscribe(func(ev Tick) {
		if e.tracks[tr.id] != tr || tr.seq == nil || tr.voice == nil {
			return
		}
		seq := tr.seq
		if !seq.pattern.Active(ev.Step) {
			return
		}
		dur := seq.noteLength * 60 / e.transport.Tempo()
		tr.voice.TriggerAttackRelease(seq.note(ev.Step), dur, ev.Time)
		if tr.category == Kick {
			e.duck(ev.Time)
		}
	})
}
