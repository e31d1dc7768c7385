package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// WriteWAV encodes stereo float frames as 16-bit PCM WAV.
func WriteWAV(w io.WriteSeeker, frames [][2]float64, sampleRate int) error {
	pcm := FloatsToInt16(frames)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	enc := gowav.NewEncoder(w, sampleRate, BitDepth, Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes frames to path, replacing any existing file.
func WriteWAVFile(path string, frames [][2]float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteWAV(f, frames, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
