// Package worker drains the render queue once per process start and then
// asks the hosting platform to stop the deployment.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/models"
	"github.com/bobarin/captionreel/internal/pipeline"
)

type JobSource interface {
	Pop(ctx context.Context) (raw []byte, ok bool, err error)
}

type Processor interface {
	Process(ctx context.Context, req pipeline.Request) error
}

// Ledger records job progress. NopLedger is used when no database is set.
type Ledger interface {
	MarkRunning(ctx context.Context, job *models.Job) error
	MarkSucceeded(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, errorKind, errorMessage string) error
}

type NopLedger struct{}

func (NopLedger) MarkRunning(context.Context, *models.Job) error { return nil }
func (NopLedger) MarkSucceeded(context.Context, string) error { return nil }
func (NopLedger) MarkFailed(context.Context, string, string, string) error { return nil }

type DeploymentController interface {
	LatestDeploymentID(ctx context.Context) (string, error)
	StopDeployment(ctx context.Context, deploymentID string) error
}

// PollPolicy bounds retries of a failing pop before it counts as empty.
type PollPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p PollPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

// Outcome summarizes one worker lifetime.
type Outcome struct {
	HotStart      bool
	Processed     int
	Failed        int
	Dropped       int
	StopRequested bool
	DeploymentID  string

	// QueueUnreachable is set when the drain ended because pops kept
	// failing. Jobs may still be waiting in the queue.
	QueueUnreachable bool
}

type Options struct {
	Source     JobSource
	Processor  Processor
	Runner     *pipeline.Runner
	Ledger     Ledger
	Deployment DeploymentController // nil = never stop
	Poll       PollPolicy

	// Liveness is served on LivenessAddr until the stop request is issued.
	Liveness     http.Handler
	LivenessAddr string
	Listener     net.Listener // overrides LivenessAddr

	Logger zerolog.Logger
}

type Controller struct {
	opts   Options
	sleep  func(context.Context, time.Duration) error
	logger zerolog.Logger
}

func New(opts Options) *Controller {
	if opts.Ledger == nil {
		opts.Ledger = NopLedger{}
	}
	return &Controller{
		opts:   opts,
		sleep:  sleepCtx,
		logger: opts.Logger.With().Str("component", "worker").Logger(),
	}
}

// Run performs exactly one immediate pop. On a hot start it keeps popping
// and processing until the queue is empty; on a cold start it stops right
// away. Either way it then fetches the latest deployment id and issues a
// single stop request for it. The liveness server stays up until then.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if c.opts.Liveness != nil {
		srv = &http.Server{Handler: c.opts.Liveness, ReadHeaderTimeout: 10 * time.Second}
		ln := c.opts.Listener
		if ln == nil {
			var err error
			if ln, err = net.Listen("tcp", c.opts.LivenessAddr); err != nil {
				return Outcome{}, err
			}
		}
		c.logger.Info().Str("addr", ln.Addr().String()).Msg("liveness server listening")
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var out Outcome
	g.Go(func() error {
		out = c.drain(gctx)
		c.stop(gctx, &out)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	return out, err
}

func (c *Controller) drain(ctx context.Context) Outcome {
	var out Outcome
	first := true
	for {
		raw, ok, err := c.pop(ctx)
		if err != nil {
			out.QueueUnreachable = true
			c.logger.Error().Err(err).Bool("hot_start", out.HotStart).Int("processed", out.Processed).
				Msg("queue unreachable, stopping anyway; jobs may remain queued")
			return out
		}
		if !ok {
			if first {
				c.logger.Info().Msg("cold start: queue empty")
			} else {
				c.logger.Info().Int("processed", out.Processed).Int("failed", out.Failed).
					Int("dropped", out.Dropped).Msg("queue drained")
			}
			return out
		}
		if first {
			out.HotStart = true
			c.logger.Info().Msg("hot start: job waiting")
			first = false
		}

		job, err := models.DecodeJob(raw)
		if err != nil {
			out.Dropped++
			c.logger.Error().Err(err).Int("bytes", len(raw)).Msg("dropping undecodable job")
			continue
		}

		if err := c.handle(ctx, job); err != nil {
			out.Failed++
			continue
		}
		out.Processed++
	}
}

// pop retries transient errors under the poll policy. The last error is
// returned once the attempts run out; cancellation reads as empty.
func (c *Controller) pop(ctx context.Context) ([]byte, bool, error) {
	attempts := c.opts.Poll.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		raw, ok, err := c.opts.Source.Pop(ctx)
		if err == nil {
			return raw, ok, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Int("of", attempts).Msg("queue pop failed")
		if attempt+1 < attempts {
			if err := c.sleep(ctx, c.opts.Poll.delay(attempt)); err != nil {
				return nil, false, nil
			}
		}
	}
	return nil, false, fmt.Errorf("pop failed %d times: %w", attempts, lastErr)
}

func (c *Controller) handle(ctx context.Context, job *models.Job) error {
	log := c.logger.With().Str("job_id", job.JobID).Str("chat_id", job.ChatID).Logger()

	if err := c.opts.Ledger.MarkRunning(ctx, job); err != nil {
		log.Warn().Err(err).Msg("failed to mark job running")
	}

	req, err := pipeline.RequestFromJob(job)
	if err == nil {
		err = c.opts.Runner.Run(ctx, job.JobID, func(ctx context.Context) error {
			return c.opts.Processor.Process(ctx, req)
		})
	}

	if err != nil {
		log.Error().Err(err).Str("kind", string(errs.KindOf(err))).Msg("job failed")
		if lerr := c.opts.Ledger.MarkFailed(ctx, job.JobID, string(errs.KindOf(err)), err.Error()); lerr != nil {
			log.Warn().Err(lerr).Msg("failed to mark job failed")
		}
		return err
	}

	log.Info().Msg("job completed")
	if lerr := c.opts.Ledger.MarkSucceeded(ctx, job.JobID); lerr != nil {
		log.Warn().Err(lerr).Msg("failed to mark job succeeded")
	}
	return nil
}

// stop fetches the latest deployment id and stops it. Without an id no
// stop request is sent.
func (c *Controller) stop(ctx context.Context, out *Outcome) {
	if c.opts.Deployment == nil {
		c.logger.Warn().Msg("deployment control not configured, not stopping")
		return
	}

	id, err := c.opts.Deployment.LatestDeploymentID(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to get latest deployment id")
		return
	}
	if id == "" {
		c.logger.Error().Msg("no deployment id, not stopping")
		return
	}
	out.DeploymentID = id

	if err := c.opts.Deployment.StopDeployment(ctx, id); err != nil {
		c.logger.Error().Err(err).Str("deployment_id", id).Msg("failed to stop deployment")
		return
	}
	out.StopRequested = true
	c.logger.Info().Str("deployment_id", id).Msg("deployment stop requested")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
