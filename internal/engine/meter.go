package engine

import (
	"math"

	"github.com/satindergrewal/pulseforge/internal/ugen"
)

const (
	meterWindow = 1024
	meterBands  = 16
	meterLowHz  = 40.0
	meterHighHz = 16000.0
)

// Levels is a reading of the master bus over the last meterWindow samples.
type Levels struct {
	PeakDb [2]float64 `json:"peakDb"`
	RMSDb  float64    `json:"rmsDb"`
	// Bands holds the magnitude in dB of log-spaced bands from 40 Hz to 16 kHz.
	Bands []float64 `json:"bands"`
}

type meter struct {
	sampleRate float64
	ring       [meterWindow]float64
	pos        int
	peak       [2]float64
}

func newMeter(sampleRate float64) *meter { return &meter{sampleRate: sampleRate} }

func (m *meter) push(buf [][2]float64) {
	m.peak = [2]float64{}
	for _, s := range buf {
		m.peak[0] = math.Max(m.peak[0], math.Abs(s[0]))
		m.peak[1] = math.Max(m.peak[1], math.Abs(s[1]))
		m.ring[m.pos] = (s[0] + s[1]) / 2
		m.pos = (m.pos + 1) % meterWindow
	}
}

func (m *meter) levels() Levels {
	var sum float64
	for _, x := range m.ring {
		sum += x * x
	}
	l := Levels{
		PeakDb: [2]float64{floorDb(m.peak[0]), floorDb(m.peak[1])},
		RMSDb:  floorDb(math.Sqrt(sum / meterWindow)),
		Bands:  make([]float64, meterBands),
	}
	ratio := math.Pow(meterHighHz/meterLowHz, 1.0/(meterBands-1))
	f := meterLowHz
	for b := range l.Bands {
		l.Bands[b] = floorDb(m.goertzel(f))
		f *= ratio
	}
	return l
}

// goertzel returns the normalized magnitude at freq over the window, oldest
// sample first.
func (m *meter) goertzel(freq float64) float64 {
	coeff := 2 * math.Cos(2*math.Pi*freq/m.sampleRate)
	var s1, s2 float64
	for i := 0; i < meterWindow; i++ {
		x := m.ring[(m.pos+i)%meterWindow]
		s0 := x + coeff*s1 - s2
		s2, s1 = s1, s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	return 2 * math.Sqrt(math.Max(power, 0)) / meterWindow
}

func floorDb(g float64) float64 {
	return math.Max(ugen.GainToDb(g), ugen.MinDb)
}
