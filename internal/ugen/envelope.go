package ugen

// Envelope is a linear ADSR amplitude envelope. Times are in seconds.
type Envelope struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

// Level returns the envelope value at time t for a note that started at on
// and was released at off.
func (e Envelope) Level(t, on, off float64) float64 {
	if t < on {
		return 0
	}
	if t < off {
		return e.held(t - on)
	}
	start := e.held(off - on)
	if e.Release <= 0 {
		return 0
	}
	rel := (t - off) / e.Release
	if rel >= 1 {
		return 0
	}
	return start * (1 - rel)
}

// Done reports whether a note released at off has fully decayed by t.
func (e Envelope) Done(t, off float64) bool {
	return t >= off+e.Release
}

func (e Envelope) held(dt float64) float64 {
	if dt < e.Attack {
		return dt / e.Attack
	}
	dt -= e.Attack
	if dt < e.Decay {
		return 1 - (1-e.Sustain)*(dt/e.Decay)
	}
	return e.Sustain
}
