package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jonathan/slide-narrator/internal/config"
	"github.com/jonathan/slide-narrator/internal/db"
	"github.com/jonathan/slide-narrator/internal/llm"
	"github.com/jonathan/slide-narrator/internal/media"
	"github.com/jonathan/slide-narrator/internal/narration"
	"github.com/jonathan/slide-narrator/internal/observability"
	"github.com/jonathan/slide-narrator/internal/pipeline"
	"github.com/jonathan/slide-narrator/internal/segment"
	"github.com/jonathan/slide-narrator/internal/speech"
	"github.com/jonathan/slide-narrator/internal/storage"
)

// loadConfig merges the config file over the defaults, then applies flags
// and the environment
func loadConfig() (config.Config, error) {
	var fileCfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		fileCfg = *loaded
	}

	cfg := fileCfg.MergeWithDefaults(config.Defaults())
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if verbose {
		cfg.Verbose = true
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// app bundles the collaborators a command runs against
type app struct {
	cfg     config.Config
	db      *db.DB
	files   *storage.Local
	orch    *pipeline.Orchestrator
	llm     llm.Client
	printer *observability.Printer
	logger  *log.Logger
}

// providers selects whether the model and speech clients are built
type providers bool

const (
	withoutProviders providers = false
	withProviders    providers = true
)

func newLogger(cfg config.Config) *log.Logger {
	if !cfg.Verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// buildApp connects to the database and wires the orchestrator. Commands that
// only read or reset job state skip the provider clients.
func buildApp(ctx context.Context, cfg config.Config, p providers) (*app, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	itemPolicy, err := pipeline.ParseItemPolicy(cfg.ItemPolicy)
	if err != nil {
		return nil, err
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		db:      database,
		files:   storage.NewLocal(cfg.UploadsDir, cfg.MediaDir),
		printer: observability.NewPrinter(os.Stdout),
		logger:  newLogger(cfg),
	}

	var caps pipeline.Capabilities
	if p == withProviders {
		if caps, err = a.buildCapabilities(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.orch = pipeline.New(pipeline.Deps{
		Jobs:       database.Jobs(),
		Subjects:   database,
		Progress:   database,
		Files:      a.files,
		Caps:       caps,
		Retry:      cfg.RetryPolicy(),
		ItemPolicy: itemPolicy,
		Voice:      cfg.Voice,
		Logger:     a.logger,
		OnProgress: a.printer.PrintEvent,
	})
	return a, nil
}

func (a *app) buildCapabilities(ctx context.Context) (pipeline.Capabilities, error) {
	if a.cfg.GeminiAPIKey == "" {
		return pipeline.Capabilities{}, fmt.Errorf("GEMINI_API_KEY environment variable or gemini_api_key config is required")
	}

	llmCfg := llm.DefaultConfig()
	if a.cfg.VisionModel != "" {
		llmCfg = llmCfg.WithModel(llm.TierVision, a.cfg.VisionModel)
	}
	if a.cfg.TextModel != "" {
		llmCfg = llmCfg.WithModel(llm.TierText, a.cfg.TextModel)
	}
	client, err := llm.NewClient(ctx, llmCfg, a.cfg.GeminiAPIKey)
	if err != nil {
		return pipeline.Capabilities{}, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.llm = client

	synth, err := speech.NewSynthesizer(ctx, a.cfg.TTSAPIKey)
	if err != nil {
		return pipeline.Capabilities{}, err
	}
	synth.SetInput(speech.Input(a.cfg.SpeechInput))

	narrator := narration.New(client)
	ffmpeg := media.New(media.Options{
		FFmpegPath:     a.cfg.FFmpegPath,
		FFprobePath:    a.cfg.FFprobePath,
		SegmentSeconds: a.cfg.SegmentSeconds,
	})
	pdf := segment.New()
	if a.cfg.RenderDPI > 0 {
		pdf.DPI = float64(a.cfg.RenderDPI)
	}

	return pipeline.Capabilities{
		Segmenter:    pdf,
		Drafter:      narrator,
		SpeechWriter: narrator,
		Synthesizer:  synth,
		Assembler:    ffmpeg,
		Packager:     ffmpeg,
	}, nil
}

// Close releases the provider clients and the database pool
func (a *app) Close() {
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.logger.Printf("failed to close LLM client: %v", err)
		}
	}
	a.db.Close()
}
