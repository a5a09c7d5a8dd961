package main

import (
	"github.com/spf13/cobra"

	"github.com/bobarin/captionreel/internal/api"
	"github.com/bobarin/captionreel/internal/bot"
	"github.com/bobarin/captionreel/internal/pipeline"
	"github.com/bobarin/captionreel/internal/queue"
	"github.com/bobarin/captionreel/internal/services"
	"github.com/bobarin/captionreel/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Drain the render queue once, then stop this deployment",
		Long: "Pop one job immediately. If there was one, keep rendering until the queue is\n" +
			"empty; either way, ask Railway to stop the current deployment afterwards.\n" +
			"GET /health answers \"warm\" on API_PORT until the stop request is sent.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, logger, err := loadConfig("worker")
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	q, err := queue.New(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer q.Close()

	tg, err := bot.NewTelegram(cfg.BotToken)
	if err != nil {
		return err
	}

	database, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var ledger worker.Ledger
	var lookup api.JobLedger
	if database != nil {
		defer database.Close()
		ledger, lookup = database, database
	}

	ffmpeg := newFFmpeg(cfg, logger)
	p, err := newPipeline(cfg, pipeline.Deps{
		Fetcher:   services.NewTelegramFiles(tg.API(), cfg.DownloadTimeout, logger),
		Prober:    ffmpeg,
		Renderer:  ffmpeg,
		Submitter: services.NewDelivery(cfg.ProcessURL(), cfg.SubmitTimeout, logger),
		Notifier:  bot.NewStatusNotifier(tg, logger),
	}, logger)
	if err != nil {
		return err
	}

	var deployment worker.DeploymentController
	if cfg.DeploymentControlConfigured() {
		deployment = services.NewRailway(services.RailwayOptions{
			APIURL:        cfg.RailwayAPIURL,
			Token:         cfg.RailwayAPIToken,
			ServiceID:     cfg.RailwayServiceID,
			EnvironmentID: cfg.RailwayEnvironmentID,
		}, logger)
	}

	liveness := apiServer(cfg, api.NewHandler(q, lookup, logger), logger)
	controller := worker.New(worker.Options{
		Source:     q,
		Processor:  p,
		Runner:     pipeline.NewRunner(cfg.MaxConcurrentRenders, logger),
		Ledger:     ledger,
		Deployment: deployment,
		Poll: worker.PollPolicy{
			Attempts:  cfg.PollRetryAttempts,
			BaseDelay: cfg.PollBaseDelay,
			MaxDelay:  cfg.PollMaxDelay,
		},
		Liveness:     liveness.Handler,
		LivenessAddr: liveness.Addr,
		Logger:       logger,
	})

	out, err := controller.Run(ctx)
	logger.Info().
		Bool("hot_start", out.HotStart).
		Int("processed", out.Processed).
		Int("failed", out.Failed).
		Int("dropped", out.Dropped).
		Bool("stop_requested", out.StopRequested).
		Bool("queue_unreachable", out.QueueUnreachable).
		Str("deployment_id", out.DeploymentID).
		Msg("worker finished")
	return err
}
