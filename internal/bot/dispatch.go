package bot

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/models"
	"github.com/bobarin/captionreel/internal/pipeline"
	"github.com/bobarin/captionreel/internal/session"
)

type Processor interface {
	Process(ctx context.Context, req pipeline.Request) error
}

// InlineDispatcher renders in this process on the shared runner. The chat
// stays in flight until the render finishes.
type InlineDispatcher struct {
	store     *session.Store
	runner    *pipeline.Runner
	processor Processor
	notifier  pipeline.Notifier // optional
	logger    zerolog.Logger
}

func NewInlineDispatcher(store *session.Store, runner *pipeline.Runner, processor Processor, notifier pipeline.Notifier, logger zerolog.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		store:     store,
		runner:    runner,
		processor: processor,
		notifier:  notifier,
		logger:    logger.With().Str("component", "dispatch").Str("mode", "inline").Logger(),
	}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, sess session.Session, statusMessageID int) error {
	req := pipeline.Request{
		JobID:            uuid.NewString(),
		ChatID:           sess.ChatID,
		FileID:           sess.FileID,
		MediaPath:        sess.MediaPath,
		MediaKind:        sess.MediaKind,
		CaptionText:      sess.CaptionText,
		ApplyFade:        sess.ApplyFade,
		StatusMessageID:  statusMessageID,
		MessagesToDelete: pipeline.IntIDs(sess.MessagesToDelete),
	}

	var started atomic.Bool
	d.runner.Go(ctx, req.JobID, func(ctx context.Context) error {
		started.Store(true)
		return d.processor.Process(ctx, req)
	}, func(err error) {
		defer d.store.Release(sess.ChatID)
		if started.Load() {
			if err != nil {
				d.logger.Debug().Err(err).Str("job_id", req.JobID).Msg("inline render finished with error")
			}
			return
		}
		d.abandon(ctx, req, err)
	})
	return nil
}

// abandon cleans up after a request the runner gave up on before Process
// took ownership of its media.
func (d *InlineDispatcher) abandon(ctx context.Context, req pipeline.Request, cause error) {
	d.logger.Warn().Err(cause).Str("job_id", req.JobID).Int64("chat_id", req.ChatID).Msg("render never started")
	if req.MediaPath != "" {
		if err := os.Remove(req.MediaPath); err != nil && !os.IsNotExist(err) {
			d.logger.Warn().Err(err).Str("path", req.MediaPath).Msg("failed to remove media")
		}
	}
	if d.notifier != nil {
		err := errs.Wrap(errs.KindInternal, "dispatch.inline", "render was not started", cause)
		d.notifier.Failed(context.WithoutCancel(ctx), req.ChatID, req.StatusMessageID, err)
	}
}

type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

type JobRecorder interface {
	RecordQueued(ctx context.Context, job *models.Job) error
}

// QueueDispatcher pushes a Job for a worker to pick up. The worker
// re-fetches the media by file id, so the local copy is removed here.
type QueueDispatcher struct {
	store  *session.Store
	queue  JobQueue
	ledger JobRecorder // optional
	logger zerolog.Logger
}

func NewQueueDispatcher(store *session.Store, q JobQueue, ledger JobRecorder, logger zerolog.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		store:  store,
		queue:  q,
		ledger: ledger,
		logger: logger.With().Str("component", "dispatch").Str("mode", "queue").Logger(),
	}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, sess session.Session, statusMessageID int) error {
	defer d.store.Release(sess.ChatID)
	if sess.MediaPath != "" {
		defer os.Remove(sess.MediaPath)
	}

	job := &models.Job{
		Version:          models.CurrentJobVersion,
		JobID:            uuid.NewString(),
		ChatID:           strconv.FormatInt(sess.ChatID, 10),
		FileID:           sess.FileID,
		MediaKind:        sess.MediaKind,
		CaptionText:      sess.CaptionText,
		ApplyFade:        sess.ApplyFade,
		MessagesToDelete: models.IDList(pipeline.IntIDs(sess.MessagesToDelete)),
	}
	if statusMessageID != 0 {
		job.StatusMessageID = strconv.Itoa(statusMessageID)
	}

	if err := d.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	if d.ledger != nil {
		if err := d.ledger.RecordQueued(ctx, job); err != nil {
			d.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to record queued job")
		}
	}
	d.logger.Info().Str("job_id", job.JobID).Int64("chat_id", sess.ChatID).Msg("job enqueued")
	return nil
}
