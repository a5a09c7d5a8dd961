package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/compose"
	"github.com/bobarin/captionreel/internal/config"
	"github.com/bobarin/captionreel/internal/db"
	"github.com/bobarin/captionreel/internal/logx"
	"github.com/bobarin/captionreel/internal/pipeline"
	"github.com/bobarin/captionreel/internal/services"
)

// loadConfig reads configuration and sets up the process logger.
func loadConfig(service string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logx.Setup(cfg.Log(service)), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newFFmpeg(cfg *config.Config, logger zerolog.Logger) *services.FFmpegService {
	return services.NewFFmpegService(services.FFmpegOptions{
		RenderTimeout: cfg.RenderTimeout,
		ProbeTimeout:  cfg.ProbeTimeout,
		Logger:        logger,
	})
}

func compositionSettings(cfg *config.Config) compose.Settings {
	s := compose.DefaultSettings()
	s.Caption.FontPath = cfg.CaptionFontPath
	return s
}

func newCaptioner(s compose.Settings) (*compose.Captioner, error) {
	return compose.NewCaptioner(s.Caption, s.CanvasWidth)
}

// newPipeline wires the render pipeline from its collaborators. Scratch
// space lives under TEMP_DIR/renders.
func newPipeline(cfg *config.Config, deps pipeline.Deps, logger zerolog.Logger) (*pipeline.Pipeline, error) {
	settings := compositionSettings(cfg)
	if deps.Captions == nil {
		captioner, err := newCaptioner(settings)
		if err != nil {
			return nil, err
		}
		deps.Captions = captioner
	}
	return pipeline.New(deps, settings, filepath.Join(cfg.TempDir, "renders"), logger)
}

// openLedger connects the optional render ledger. A nil DB means none is
// configured.
func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("DATABASE_URL not set, render ledger disabled")
		return nil, nil
	}
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to prepare ledger schema: %w", err)
	}
	logger.Info().Msg("connected to render ledger")
	return database, nil
}

func newSuggester(cfg *config.Config, logger zerolog.Logger) services.CaptionSuggester {
	switch cfg.SuggestProvider {
	case "gemini":
		if cfg.GeminiKey != "" {
			logger.Info().Str("model", cfg.GeminiModel).Msg("caption suggestions via Gemini")
			return services.NewGeminiSuggester(cfg.GeminiKey, cfg.GeminiModel)
		}
	case "openai":
		if cfg.OpenAIKey != "" {
			logger.Info().Str("model", cfg.OpenAIModel).Msg("caption suggestions via OpenAI")
			return services.NewOpenAISuggester(cfg.OpenAIKey, cfg.OpenAIModel)
		}
	}
	logger.Info().Msg("caption suggestions disabled")
	return nil
}
