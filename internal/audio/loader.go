package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// maxAssetBytes caps remote and inline assets.
const maxAssetBytes = 64 << 20

// ErrUnsupportedURI is returned for URIs LoadBuffer cannot fetch.
var ErrUnsupportedURI = errors.New("unsupported asset uri")

// Loader fetches and decodes audio assets into beep buffers. Buffers keep
// the sample rate of the source; callers resample.
type Loader struct {
	HTTP *http.Client
	// BaseDir resolves relative file paths.
	BaseDir string
}

// NewLoader returns a loader with a 60 second HTTP timeout.
func NewLoader(baseDir string) *Loader {
	return &Loader{HTTP: &http.Client{Timeout: 60 * time.Second}, BaseDir: baseDir}
}

// Load fetches uri (data:, http(s)://, file:// or a plain path) and decodes
// it. WAV and MP3 decode natively; other formats go through FFmpeg.
func (l *Loader) Load(ctx context.Context, uri string) (*beep.Buffer, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		mime, data, err := parseDataURI(uri)
		if err != nil {
			return nil, err
		}
		return decodeBytes(data, formatOf(mime, ""))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return l.fetch(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		return l.loadFile(ctx, strings.TrimPrefix(uri, "file://"))
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	}
	return l.loadFile(ctx, uri)
}

func parseDataURI(uri string) (mime string, data []byte, err error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data uri")
	}
	mime, params, _ := strings.Cut(header, ";")
	if !strings.Contains(params, "base64") {
		return "", nil, fmt.Errorf("data uri must be base64 encoded")
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxAssetBytes {
		return "", nil, fmt.Errorf("data uri exceeds %d bytes", maxAssetBytes)
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data uri: %w", err)
	}
	return mime, data, nil
}

func (l *Loader) fetch(ctx context.Context, uri string) (*beep.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return decodeBytes(data, formatOf(resp.Header.Get("Content-Type"), uri))
}

func (l *Loader) loadFile(ctx context.Context, path string) (*beep.Buffer, error) {
	if !filepath.IsAbs(path) && l.BaseDir != "" {
		path = filepath.Join(l.BaseDir, path)
	}
	switch f := formatOf("", path); f {
	case "wav", "mp3":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return decodeBytes(data, f)
	}
	samples, err := DecodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return pcmBuffer(samples), nil
}

// formatOf guesses "wav" or "mp3" from a MIME type or file name.
func formatOf(mime, name string) string {
	mime = strings.ToLower(mime)
	switch {
	case strings.Contains(mime, "wav"):
		return "wav"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return "mp3"
	}
	switch strings.ToLower(filepath.Ext(strings.SplitN(name, "?", 2)[0])) {
	case ".wav":
		return "wav"
	case ".mp3":
		return "mp3"
	}
	return ""
}

func decodeBytes(data []byte, format string) (*beep.Buffer, error) {
	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch format {
	case "mp3":
		s, f, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		s, f, err = wav.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	defer s.Close()

	buf := beep.NewBuffer(f)
	buf.Append(s)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("decode %s: empty asset", format)
	}
	return buf, nil
}

// pcmBuffer wraps FFmpeg output (48 kHz stereo s16) in a beep buffer.
func pcmBuffer(samples []int16) *beep.Buffer {
	frames := Int16ToFloats(samples)
	buf := beep.NewBuffer(beep.Format{SampleRate: SampleRate, NumChannels: Channels, Precision: 2})
	pos := 0
	buf.Append(beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(frames) {
			return 0, false
		}
		n := copy(out, frames[pos:])
		pos += n
		return n, true
	}))
	return buf
}
