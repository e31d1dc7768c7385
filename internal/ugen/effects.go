package ugen

import "math"

// Distortion is a tanh waveshaper blended against the dry signal by Amount.
type Distortion struct {
	amount float64
	drive  float64
	norm   float64
}

// NewDistortion returns a waveshaper with the given amount (0..1).
func NewDistortion(amount float64) *Distortion {
	d := &Distortion{}
	d.SetAmount(amount)
	return d
}

// SetAmount sets the drive amount, clamped to 0..1.
func (d *Distortion) SetAmount(amount float64) {
	d.amount = clamp(amount, 0, 1)
	d.drive = 1 + d.amount*20
	d.norm = 1 / math.Tanh(d.drive)
}

// Amount returns the current drive amount.
func (d *Distortion) Amount() float64 { return d.amount }

// Process shapes one frame.
func (d *Distortion) Process(in [2]float64) [2]float64 {
	if d.amount == 0 {
		return in
	}
	for c := 0; c < 2; c++ {
		wet := math.Tanh(d.drive*in[c]) * d.norm
		in[c] = in[c]*(1-d.amount) + wet*d.amount
	}
	return in
}

// PitchShift transposes by a number of semitones with two crossfaded read
// heads sweeping a short delay line.
type PitchShift struct {
	buf        [][2]float64
	write      int
	phase      float64
	window     float64 // seconds
	semitones  float64
	ratio      float64
	sampleRate float64
}

// NewPitchShift creates a shifter with a 100 ms window.
func NewPitchShift(sampleRate float64) *PitchShift {
	p := &PitchShift{window: 0.1, sampleRate: sampleRate, ratio: 1}
	p.buf = make([][2]float64, int(p.window*sampleRate)+4)
	return p
}

// SetSemitones sets the transposition, clamped to -12..12.
func (p *PitchShift) SetSemitones(st float64) {
	p.semitones = clamp(st, -12, 12)
	p.ratio = math.Pow(2, p.semitones/12)
}

// Semitones returns the current transposition.
func (p *PitchShift) Semitones() float64 { return p.semitones }

// Process shifts one frame.
func (p *PitchShift) Process(in [2]float64) [2]float64 {
	n := len(p.buf)
	p.buf[p.write] = in
	p.write = (p.write + 1) % n
	if p.semitones == 0 {
		return in
	}

	p.phase += (1 - p.ratio) / (p.window * p.sampleRate)
	p.phase -= math.Floor(p.phase)
	phase2 := p.phase + 0.5
	phase2 -= math.Floor(phase2)

	a := p.read(p.phase * p.window * p.sampleRate)
	b := p.read(phase2 * p.window * p.sampleRate)
	ga := math.Sin(math.Pi * p.phase)
	gb := math.Sin(math.Pi * phase2)
	return [2]float64{a[0]*ga + b[0]*gb, a[1]*ga + b[1]*gb}
}

func (p *PitchShift) read(delay float64) [2]float64 {
	n := len(p.buf)
	pos := float64(p.write-1) - delay
	for pos < 0 {
		pos += float64(n)
	}
	i := int(pos)
	frac := pos - float64(i)
	x0 := p.buf[i%n]
	x1 := p.buf[(i+1)%n]
	return [2]float64{x0[0] + (x1[0]-x0[0])*frac, x0[1] + (x1[1]-x0[1])*frac}
}

// FeedbackDelay is a fully wet stereo delay with feedback.
type FeedbackDelay struct {
	buf        [][2]float64
	pos        int
	delay      int
	Feedback   float64
	sampleRate float64
}

// NewFeedbackDelay allocates up to maxSeconds of delay memory.
func NewFeedbackDelay(delaySeconds, feedback, maxSeconds, sampleRate float64) *FeedbackDelay {
	d := &FeedbackDelay{
		buf:        make([][2]float64, int(maxSeconds*sampleRate)+1),
		Feedback:   feedback,
		sampleRate: sampleRate,
	}
	d.SetDelay(delaySeconds)
	return d
}

// SetDelay changes the delay time in seconds.
func (d *FeedbackDelay) SetDelay(seconds float64) {
	n := int(seconds * d.sampleRate)
	if n < 1 {
		n = 1
	}
	if n >= len(d.buf) {
		n = len(d.buf) - 1
	}
	d.delay = n
}

// DelayTime returns the delay time in seconds.
func (d *FeedbackDelay) DelayTime() float64 { return float64(d.delay) / d.sampleRate }

// Process replaces samples with the delayed signal.
func (d *FeedbackDelay) Process(samples [][2]float64) {
	n := len(d.buf)
	for i := range samples {
		r := (d.pos - d.delay + n) % n
		out := d.buf[r]
		d.buf[d.pos] = [2]float64{
			samples[i][0] + out[0]*d.Feedback,
			samples[i][1] + out[1]*d.Feedback,
		}
		d.pos = (d.pos + 1) % n
		samples[i] = out
	}
}

// Limiter is a peak limiter with instant attack and exponential release.
type Limiter struct {
	threshold float64
	release   float64
	gain      float64
}

// NewLimiter creates a limiter at thresholdDb with a 100 ms release.
func NewLimiter(thresholdDb, sampleRate float64) *Limiter {
	return &Limiter{
		threshold: DbToGain(thresholdDb),
		release:   1 - math.Exp(-1/(0.1*sampleRate)),
		gain:      1,
	}
}

// Process limits samples in place.
func (l *Limiter) Process(samples [][2]float64) {
	for i := range samples {
		peak := math.Max(math.Abs(samples[i][0]), math.Abs(samples[i][1]))
		if peak*l.gain > l.threshold {
			l.gain = l.threshold / peak
		} else {
			l.gain += (1 - l.gain) * l.release
		}
		samples[i][0] *= l.gain
		samples[i][1] *= l.gain
	}
}
