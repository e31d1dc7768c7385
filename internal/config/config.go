package config

import (
	"os"
	"strconv"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Engine
	Tempo      float64 // starting BPM
	DuckAmount float64 // sidechain depth, 0..1
	Seed       uint64  // voice and melody randomness; 0 picks one from the clock

	// Library and sessions
	LoopsDir   string
	SessionDir string

	// Streaming
	MP3Bitrate  string // FFmpeg syntax, e.g. "192k"
	OpusBitrate int    // bits per second

	// Ollama command interpreter; empty URL disables it
	OllamaURL     string
	OllamaModel   string
	OllamaTimeout time.Duration

	// ACE-Step generation; empty URL disables it
	ACEStepAPIURL    string
	ACEStepAPIKey    string
	ACEStepOutputDir string
	ClipDuration     int // seconds
	InferenceSteps   int
	PollInterval     time.Duration
	GenerateTimeout  time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("PULSEFORGE_PORT", 8080),

		Tempo:      envFloat("PULSEFORGE_TEMPO", 128),
		DuckAmount: envFloat("PULSEFORGE_DUCK_AMOUNT", 0.5),
		Seed:       uint64(envInt("PULSEFORGE_SEED", 0)),

		LoopsDir:   envStr("PULSEFORGE_LOOPS_DIR", "./loops"),
		SessionDir: envStr("PULSEFORGE_SESSION_DIR", "./sessions"),

		MP3Bitrate:  envStr("PULSEFORGE_MP3_BITRATE", "192k"),
		OpusBitrate: envInt("PULSEFORGE_OPUS_BITRATE", 128000),

		OllamaURL:     envStr("OLLAMA_URL", ""),
		OllamaModel:   envStr("OLLAMA_MODEL", "llama3.1"),
		OllamaTimeout: envDuration("OLLAMA_TIMEOUT", 30*time.Second),

		ACEStepAPIURL:    envStr("ACESTEP_API_URL", ""),
		ACEStepAPIKey:    envStr("ACESTEP_API_KEY", ""),
		ACEStepOutputDir: envStr("ACESTEP_OUTPUT_DIR", "/acestep-outputs"),
		ClipDuration:     envInt("ACESTEP_CLIP_DURATION", 10),
		InferenceSteps:   envInt("ACESTEP_INFERENCE_STEPS", 8),
		PollInterval:     envDuration("ACESTEP_POLL_INTERVAL", 2*time.Second),
		GenerateTimeout:  envDuration("ACESTEP_TIMEOUT", 3*time.Minute),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("90s") or plain seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
