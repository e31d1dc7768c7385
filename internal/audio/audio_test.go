package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- Smoothstep / Fade ---

func TestSmoothstepBoundaries(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		got := Smoothstep(tt.input)
		if got != tt.want {
			t.Errorf("Smoothstep(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSmoothstepMonotonic(t *testing.T) {
	prev := 0.0
	for i := 1; i <= 100; i++ {
		x := float64(i) / 100.0
		val := Smoothstep(x)
		if val < prev {
			t.Errorf("Smoothstep not monotonic: f(%v)=%v < f(%v)=%v", x, val, float64(i-1)/100.0, prev)
		}
		prev = val
	}
}

func TestFadeOut(t *testing.T) {
	frames := make([][2]float64, 100)
	for i := range frames {
		frames[i] = [2]float64{1, -1}
	}
	Fade(frames, 1, 0)
	if frames[0][0] != 1 {
		t.Errorf("fade-out should start at full level, got %v", frames[0][0])
	}
	for i := 1; i < len(frames); i++ {
		if frames[i][0] > frames[i-1][0] {
			t.Fatalf("fade-out not monotonic at %d", i)
		}
	}
	if frames[99][0] > 0.01 || frames[99][1] < -0.01 {
		t.Errorf("fade-out tail = %v", frames[99])
	}
}

// --- Sample conversion ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

func TestFloatsToInt16Clips(t *testing.T) {
	got := FloatsToInt16([][2]float64{{0, 1}, {-1, 2}, {-3, 0.5}})
	want := []int16{0, 32767, -32767, 32767, -32768, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

// --- Pipeline ---

func TestPipelineRendersFrames(t *testing.T) {
	var calls int
	src := SourceFunc(func(buf [][2]float64) {
		calls++
		for i := range buf {
			buf[i] = [2]float64{0.5, -0.5}
		}
	})
	p := NewPipeline(src)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	var frames [][]int16
	for len(frames) < fadeInFrames+1 {
		frames = append(frames, <-p.Frames())
	}
	cancel()
	for range p.Frames() {
	}

	if len(frames[0]) != FrameSamples {
		t.Fatalf("frame length = %d, want %d", len(frames[0]), FrameSamples)
	}
	if frames[0][0] != 0 {
		t.Errorf("first sample should be faded in from silence, got %d", frames[0][0])
	}
	last := frames[fadeInFrames]
	if last[0] != 16384 || last[1] != -16384 {
		t.Errorf("post fade-in samples = %d, %d", last[0], last[1])
	}
	if pos, _ := p.Status(); pos < time.Duration(fadeInFrames+1)*FrameDuration {
		t.Errorf("Status position = %v", pos)
	}
}

func TestRenderOffline(t *testing.T) {
	var total int
	src := SourceFunc(func(buf [][2]float64) { total += len(buf) })
	out := RenderOffline(src, 1010*time.Millisecond)
	if len(out) != 48480 || total != 48480 {
		t.Errorf("rendered %d frames via %d, want 48480", len(out), total)
	}
}

// --- WAV export and loading ---

func sine(n int) [][2]float64 {
	out := make([][2]float64, n)
	for i := range out {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/SampleRate)
		out[i] = [2]float64{v, v}
	}
	return out
}

func TestWriteWAVLoadsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	frames := sine(4800)
	if err := WriteWAVFile(path, frames, SampleRate); err != nil {
		t.Fatal(err)
	}

	buf, err := NewLoader(dir).Load(context.Background(), "tone.wav")
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() != len(frames) || int(buf.Format().SampleRate) != SampleRate {
		t.Fatalf("loaded %d frames at %d Hz", buf.Len(), buf.Format().SampleRate)
	}
	got := make([][2]float64, buf.Len())
	buf.Streamer(0, buf.Len()).Stream(got)
	for i := range got {
		if math.Abs(got[i][0]-frames[i][0]) > 1e-3 {
			t.Fatalf("frame %d = %v, want %v", i, got[i][0], frames[i][0])
		}
	}
}

func TestLoadDataURIAndHTTP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	if err := WriteWAVFile(path, sine(960), SampleRate); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	l := NewLoader("")

	uri := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(raw)
	buf, err := l.Load(context.Background(), uri)
	if err != nil || buf.Len() != 960 {
		t.Fatalf("data uri: len=%v err=%v", buf, err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.wav" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(raw)
	}))
	defer srv.Close()

	buf, err = l.Load(context.Background(), srv.URL+"/clip")
	if err != nil || buf.Len() != 960 {
		t.Fatalf("http: err=%v", err)
	}
	if _, err := l.Load(context.Background(), srv.URL+"/missing.wav"); err == nil {
		t.Error("404 should fail")
	}
	if _, err := l.Load(context.Background(), "s3://bucket/x.wav"); !errors.Is(err, ErrUnsupportedURI) {
		t.Errorf("s3 uri err = %v", err)
	}
	if _, err := l.Load(context.Background(), "data:audio/wav,plain"); err == nil {
		t.Error("non-base64 data uri should fail")
	}
}
