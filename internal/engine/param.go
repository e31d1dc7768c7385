package engine

import (
	"math"
	"sort"
)

type rampKind int

const (
	rampSet rampKind = iota
	rampLinear
	rampExponential
)

type paramEvent struct {
	kind  rampKind
	value float64
	time  float64
}

// Param is an automatable value on the engine timeline. Events are kept in
// time order; a ramp interpolates from the previous event's value and time
// to its own.
type Param struct {
	value  float64 // value before the first event
	events []paramEvent
}

// NewParam returns a param holding v until automation is scheduled.
func NewParam(v float64) *Param {
	return &Param{value: v}
}

// ValueAt evaluates the automation at time t.
func (p *Param) ValueAt(t float64) float64 {
	prevV, prevT := p.value, math.Inf(-1)
	for _, ev := range p.events {
		if ev.time > t {
			switch ev.kind {
			case rampLinear:
				if math.IsInf(prevT, -1) {
					return prevV
				}
				frac := (t - prevT) / (ev.time - prevT)
				return prevV + (ev.value-prevV)*frac
			case rampExponential:
				if math.IsInf(prevT, -1) || prevV <= 0 || ev.value <= 0 {
					return prevV
				}
				frac := (t - prevT) / (ev.time - prevT)
				return prevV * math.Pow(ev.value/prevV, frac)
			}
			return prevV
		}
		prevV, prevT = ev.value, ev.time
	}
	return prevV
}

func (p *Param) insert(ev paramEvent) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > ev.time })
	p.events = append(p.events, paramEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = ev
}

// SetValueAt jumps to v at time t.
func (p *Param) SetValueAt(v, t float64) {
	p.insert(paramEvent{kind: rampSet, value: v, time: t})
}

// LinearRampTo ramps linearly from the previous event to v, arriving at t.
func (p *Param) LinearRampTo(v, t float64) {
	p.insert(paramEvent{kind: rampLinear, value: v, time: t})
}

// ExponentialRampTo ramps exponentially to v, arriving at t. Targets must be
// positive; anything smaller is raised to a tiny positive value.
func (p *Param) ExponentialRampTo(v, t float64) {
	if v < 1e-6 {
		v = 1e-6
	}
	p.insert(paramEvent{kind: rampExponential, value: v, time: t})
}

// Cancel drops every event scheduled at or after t.
func (p *Param) Cancel(t float64) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

// RampTo captures the current value at now, cancels pending automation and
// ramps linearly to v over dur seconds.
func (p *Param) RampTo(v, dur, now float64) {
	cur := p.ValueAt(now)
	p.Cancel(now)
	p.SetValueAt(cur, now)
	p.LinearRampTo(v, now+dur)
}

// Set cancels all automation and holds v from now on.
func (p *Param) Set(v, now float64) {
	p.Cancel(now)
	p.SetValueAt(v, now)
}

// Prune folds events that lie entirely in the past into the base value so
// the event list stays short. Events needed to interpolate at t are kept.
func (p *Param) Prune(t float64) {
	n := 0
	for n+1 < len(p.events) && p.events[n+1].time <= t {
		n++
	}
	if n == 0 {
		return
	}
	p.value = p.events[n-1].value
	p.events = append(p.events[:0], p.events[n:]...)
}

// Pending reports whether automation is scheduled after t.
func (p *Param) Pending(t float64) bool {
	return len(p.events) > 0 && p.events[len(p.events)-1].time > t
}
