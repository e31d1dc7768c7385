package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Fade scales frames by a smoothstep curve running from progress from to
// progress to across the slice. Fade(f, 0, 1) fades in, Fade(f, 1, 0) out.
func Fade(frames [][2]float64, from, to float64) {
	n := len(frames)
	if n == 0 {
		return
	}
	for i := range frames {
		p := from + (to-from)*float64(i)/float64(n)
		g := Smoothstep(p)
		frames[i][0] *= g
		frames[i][1] *= g
	}
}
