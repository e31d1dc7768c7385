package engine

// duck schedules the sidechain envelope on every chain not owned by a kick
// track: snap to 1 at t, fall to 1-DuckAmount over DuckAttack, recover to 1
// by the release time. Called with e.mu held.
func (e *Engine) duck(t float64) {
	release := e.opts.DuckRelease
	if release <= 0 {
		release = 30 / e.transport.Tempo() // eighth note
	}
	floor := 1 - e.opts.DuckAmount
	for _, id := range e.order {
		if tr := e.tracks[id]; tr != nil && tr.category == Kick {
			continue
		}
		sc := e.chains[id].sidechain
		sc.Cancel(t)
		sc.SetValueAt(1, t)
		sc.ExponentialRampTo(floor, t+e.opts.DuckAttack)
		sc.ExponentialRampTo(1, t+release)
	}
}
