package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/pulseforge/internal/acestep"
	"github.com/satindergrewal/pulseforge/internal/audio"
	"github.com/satindergrewal/pulseforge/internal/config"
	"github.com/satindergrewal/pulseforge/internal/engine"
	"github.com/satindergrewal/pulseforge/internal/forge"
	"github.com/satindergrewal/pulseforge/internal/loops"
	"github.com/satindergrewal/pulseforge/internal/nlu"
	"github.com/satindergrewal/pulseforge/internal/server"
	"github.com/satindergrewal/pulseforge/internal/session"
	"github.com/satindergrewal/pulseforge/internal/stream"
)

var version = "0.1.0"

var (
	port       int
	loopsDir   string
	outputPath string
	renderBars int
	fadeOut    float64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pulseforge",
	Short: "Real-time loop engine with step sequencing and sidechain ducking",
	Long: `PulseForge runs a tempo-synced loop engine: synthesized drum, bass and
lead voices on a shared 16-step clock, pre-made and generated loops
resampled to the session tempo, and kick-driven sidechain ducking.

Configuration is read from PULSEFORGE_*, OLLAMA_* and ACESTEP_* environment
variables.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its HTTP API and audio streams",
	Long: `Start the engine, stream the master bus as MP3 (/stream) and
WebRTC/Opus (/offer), and serve the control API under /api.

Example:
  pulseforge serve --port 8080`,
	RunE: runServe,
}

var renderCmd = &cobra.Command{
	Use:   "render <session.yaml>",
	Short: "Render a saved session to a WAV file",
	Long: `Restore a saved session offline and write the master bus to WAV.

Example:
  pulseforge render sessions/live.yaml -o live.wav --bars 16`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the loop library",
	Long: `Scan the loops directory for WAV files and write library.json with
each loop's category, key and tempo parsed from its file name.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(indexCmd)

	rootCmd.PersistentFlags().StringVar(&loopsDir, "loops", "", "Loop library directory (default: $PULSEFORGE_LOOPS_DIR)")

	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (default: $PULSEFORGE_PORT)")

	renderCmd.Flags().StringVarP(&outputPath, "output", "o", "pulseforge.wav", "Output WAV file")
	renderCmd.Flags().IntVar(&renderBars, "bars", 8, "Length in bars")
	renderCmd.Flags().Float64Var(&fadeOut, "fade", 1, "Fade-out length in seconds")
}

func loadConfig() config.Config {
	cfg := config.Load()
	if loopsDir != "" {
		cfg.LoopsDir = loopsDir
	}
	if port != 0 {
		cfg.Port = port
	}
	return cfg
}

func newEngine(cfg config.Config) *engine.Engine {
	loader := audio.NewLoader(cfg.LoopsDir)
	return engine.New(engine.Options{
		SampleRate: audio.SampleRate,
		Tempo:      cfg.Tempo,
		DuckAmount: cfg.DuckAmount,
		Loader:     loader.Load,
		Seed:       cfg.Seed,
	})
}

func openLibrary(dir string) *loops.Library {
	lib, err := loops.Open(dir)
	if err != nil {
		log.Printf("Loop library unavailable: %v", err)
		return nil
	}
	log.Printf("Loop library: %d loops in %s", len(lib.Loops), dir)
	return lib
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("pulseforge starting up...")

	e := newEngine(cfg)
	defer e.Close()

	// Ollama command interpreter (optional)
	var interp forge.Interpreter
	if cfg.OllamaURL != "" {
		client := nlu.NewClient(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaTimeout)
		readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
		if client.WaitForReady(readyCtx, 3*time.Second) {
			interp = nlu.NewInterpreter(client)
		} else {
			log.Println("Ollama not available, commands will not change effects")
		}
		readyCancel()
	} else {
		log.Println("Ollama not configured (set OLLAMA_URL to enable command interpretation)")
	}

	// ACE-Step clip generation (optional)
	var clips forge.ClipSource
	if cfg.ACEStepAPIURL != "" {
		client := acestep.NewClient(cfg.ACEStepAPIURL, cfg.ACEStepAPIKey, cfg.ACEStepOutputDir)
		if !client.Healthy(ctx) {
			log.Println("ACE-Step not answering yet, forged parts fall back to local voices until it does")
		}
		clips = acestep.NewClips(client, acestep.ClipConfig{
			Duration:       cfg.ClipDuration,
			InferenceSteps: cfg.InferenceSteps,
			PollInterval:   cfg.PollInterval,
			Timeout:        cfg.GenerateTimeout,
		})
	} else {
		log.Println("ACE-Step not configured (set ACESTEP_API_URL to enable generated clips)")
	}

	lib := openLibrary(cfg.LoopsDir)

	// Audio pipeline: engine -> 20 ms PCM frames -> listeners
	pipeline := audio.NewPipeline(e)
	go pipeline.Run(ctx)

	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, pipeline.Frames())

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate, "pulseforge")
	defer webrtcHandler.Close()

	srv := server.New(server.Deps{
		Engine:      e,
		Forge:       forge.New(e, interp, clips, lib, forge.Config{Seed: cfg.Seed}),
		Library:     lib,
		Sessions:    session.NewStore(cfg.SessionDir),
		Broadcaster: broadcaster,
		Stream:      stream.NewHTTPHandler(broadcaster, cfg.MP3Bitrate, "PulseForge"),
		Offer:       webrtcHandler,
	})
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Port))
}

func runRender(cmd *cobra.Command, args []string) error {
	if renderBars <= 0 {
		return fmt.Errorf("--bars must be positive")
	}
	cfg := loadConfig()
	sess, err := session.LoadFile(args[0])
	if err != nil {
		return err
	}

	e := newEngine(cfg)
	defer e.Close()
	if err := e.Restore(cmd.Context(), sess); err != nil {
		log.Printf("Restore incomplete: %v", err)
	}
	e.Start()

	seconds := float64(renderBars) * 4 * 60 / e.Tempo()
	frames := audio.RenderOffline(e, time.Duration(seconds*float64(time.Second)))

	if n := int(fadeOut * audio.SampleRate); n > 0 {
		if n > len(frames) {
			n = len(frames)
		}
		audio.Fade(frames[len(frames)-n:], 1, 0)
	}

	if err := audio.WriteWAVFile(outputPath, frames, audio.SampleRate); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	fmt.Printf("Rendered %d bars (%.1fs at %.0f BPM) to %s\n", renderBars, seconds, e.Tempo(), outputPath)
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	lib, err := loops.Scan(cfg.LoopsDir)
	if err != nil {
		return err
	}
	path, err := lib.WriteIndex()
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d loop files to %s\n", len(lib.Loops), path)
	return nil
}
