package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bobarin/captionreel/internal/api"
	"github.com/bobarin/captionreel/internal/bot"
	"github.com/bobarin/captionreel/internal/config"
	"github.com/bobarin/captionreel/internal/pipeline"
	"github.com/bobarin/captionreel/internal/queue"
	"github.com/bobarin/captionreel/internal/services"
	"github.com/bobarin/captionreel/internal/session"
)

func newBotCommand() *cobra.Command {
	var serveAPI bool

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram front end",
		Long: "Run the Telegram front end. With DISPATCH_MODE=inline renders run in this\n" +
			"process; with DISPATCH_MODE=queue they are pushed to the Redis queue for workers.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBot(serveAPI)
		},
	}

	cmd.Flags().BoolVar(&serveAPI, "api", true, "Serve the HTTP API (health, jobs, queue) on API_PORT")

	return cmd
}

func runBot(serveAPI bool) error {
	cfg, logger, err := loadConfig("bot")
	if err != nil {
		return err
	}
	if err := cfg.ValidateBot(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	tg, err := bot.NewTelegram(cfg.BotToken)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.SessionTimeout, logger)
	go store.Run(ctx, cfg.SessionSweepInterval)

	ffmpeg := newFFmpeg(cfg, logger)
	files := services.NewTelegramFiles(tg.API(), cfg.DownloadTimeout, logger)
	runner := pipeline.NewRunner(cfg.MaxConcurrentRenders, logger)
	defer runner.Wait()

	database, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var ledger api.JobLedger
	var recorder bot.JobRecorder
	if database != nil {
		defer database.Close()
		ledger, recorder = database, database
	}

	var dispatcher bot.Dispatcher
	var jobs api.JobQueue
	switch cfg.DispatchMode {
	case config.DispatchQueue:
		q, err := queue.New(cfg.RedisURL, cfg.QueueName)
		if err != nil {
			return err
		}
		defer q.Close()
		jobs = q
		dispatcher = bot.NewQueueDispatcher(store, q, recorder, logger)
	default:
		notifier := bot.NewStatusNotifier(tg, logger)
		p, err := newPipeline(cfg, pipeline.Deps{
			Fetcher:   files,
			Prober:    ffmpeg,
			Renderer:  ffmpeg,
			Submitter: services.NewDelivery(cfg.ProcessURL(), cfg.SubmitTimeout, logger),
			Notifier:  notifier,
		}, logger)
		if err != nil {
			return err
		}
		dispatcher = bot.NewInlineDispatcher(store, runner, p, notifier, logger)
	}
	logger.Info().Str("mode", cfg.DispatchMode).Int("max_renders", cfg.MaxConcurrentRenders).Msg("dispatch configured")

	conv, err := bot.NewConversation(bot.ConversationOptions{
		Store:           store,
		FrontEnd:        tg,
		Fetcher:         files,
		Dispatcher:      dispatcher,
		Suggester:       newSuggester(cfg, logger),
		Frames:          ffmpeg,
		MediaDir:        filepath.Join(cfg.TempDir, "media"),
		DownloadTimeout: cfg.DownloadTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	if serveAPI {
		srv := apiServer(cfg, api.NewHandler(jobs, ledger, logger), logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("api server failed")
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	tg.Poll(ctx, conv, logger)
	logger.Info().Msg("bot stopped, waiting for renders in flight")
	return nil
}

func apiServer(cfg *config.Config, h *api.Handler, logger zerolog.Logger) *http.Server {
	if cfg.BackendAPIKey == "" {
		logger.Warn().Msg("no BACKEND_API_KEY set, /v1 is unprotected")
	}
	router := api.NewRouter(h, api.RouterConfig{
		BackendAPIKey:  cfg.BackendAPIKey,
		AllowedOrigins: cfg.CorsOrigins(),
		Logger:         logger,
	})
	logger.Info().Str("port", cfg.APIPort).Msg("api listening")
	return &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
