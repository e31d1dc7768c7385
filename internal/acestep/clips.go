package acestep

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// ClipConfig tunes clip generation.
type ClipConfig struct {
	Duration       int // seconds
	InferenceSteps int
	PollInterval   time.Duration
	Timeout        time.Duration
	AudioFormat    string
}

func (cfg *ClipConfig) defaults() {
	if cfg.Duration <= 0 {
		cfg.Duration = 10
	}
	if cfg.InferenceSteps <= 0 {
		cfg.InferenceSteps = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "wav"
	}
}

// Clips turns part requests into generated audio files.
type Clips struct {
	client *Client
	cfg    ClipConfig
}

// NewClips creates a clip generator on top of client.
func NewClips(client *Client, cfg ClipConfig) *Clips {
	cfg.defaults()
	return &Clips{client: client, cfg: cfg}
}

// Caption builds the generation caption for a part.
func Caption(category, prompt string) string {
	if category == "" {
		category = "music loop"
	}
	return fmt.Sprintf("High quality EDM %s, professional production: %s", category, strings.TrimSpace(prompt))
}

// Clip generates a clip for category from prompt and returns the path of
// the audio file. Every failure, including a disabled client, is reported
// as ErrUseLocalFallback wrapping the cause.
func (g *Clips) Clip(ctx context.Context, category, prompt string) (string, error) {
	if g == nil || !g.client.Enabled() {
		return "", ErrUseLocalFallback
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	log.Printf("Generating %s clip...", category)
	taskID, err := g.client.Generate(ctx, GenerateRequest{
		Caption:        Caption(category, prompt),
		Lyrics:         "[Instrumental]",
		Duration:       g.cfg.Duration,
		InferenceSteps: g.cfg.InferenceSteps,
		Seed:           -1,
		UseRandomSeed:  true,
		BatchSize:      1,
		AudioFormat:    g.cfg.AudioFormat,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUseLocalFallback, err)
	}
	path, err := g.client.PollUntilDone(ctx, taskID, g.cfg.PollInterval)
	if err != nil {
		return "", fmt.Errorf("%w: task %s: %w", ErrUseLocalFallback, taskID, err)
	}
	log.Printf("Clip ready: %s [%s]", path, taskID)
	return path, nil
}
