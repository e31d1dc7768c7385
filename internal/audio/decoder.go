package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
)

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples.
// Returns interleaved stereo samples at 48kHz.
func DecodeFile(ctx context.Context, path string) ([]int16, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	return samples, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// FloatsToInt16 interleaves stereo float frames into clipped int16 samples.
func FloatsToInt16(frames [][2]float64) []int16 {
	out := make([]int16, len(frames)*Channels)
	for i, f := range frames {
		out[i*2] = toInt16(f[0])
		out[i*2+1] = toInt16(f[1])
	}
	return out
}

func toInt16(v float64) int16 {
	s := math.Round(v * 32767)
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

// Int16ToFloats splits interleaved stereo int16 samples into float frames.
func Int16ToFloats(samples []int16) [][2]float64 {
	out := make([][2]float64, len(samples)/Channels)
	for i := range out {
		out[i] = [2]float64{float64(samples[i*2]) / 32768, float64(samples[i*2+1]) / 32768}
	}
	return out
}
