package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/models"
	"github.com/bobarin/captionreel/internal/pipeline"
	"github.com/bobarin/captionreel/internal/session"
)

// dispatchedSession drives a store to an in-flight session for chat 8.
func dispatchedSession(t *testing.T, store *session.Store, mediaPath string) session.Session {
	t.Helper()
	require.NoError(t, store.BeginDownload(8, models.MediaVideo, "file-v", 70))
	require.NoError(t, store.CompleteDownload(8, mediaPath))
	require.Equal(t, session.CaptionAccepted, store.SetCaption(8, "caption"))
	store.AddMessageToDelete(8, 71)
	sess, err := store.ChooseFade(8, true)
	require.NoError(t, err)
	return sess
}

type memQueue struct {
	jobs []*models.Job
	err  error
}

func (q *memQueue) Enqueue(_ context.Context, job *models.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type memRecorder struct {
	ids []string
}

func (r *memRecorder) RecordQueued(_ context.Context, job *models.Job) error {
	r.ids = append(r.ids, job.JobID)
	return nil
}

func TestQueueDispatcherEnqueuesAndReleases(t *testing.T) {
	store := session.NewStore(time.Hour, zerolog.Nop())
	media := filepath.Join(t.TempDir(), "m.mp4")
	require.NoError(t, os.WriteFile(media, []byte("v"), 0o644))
	sess := dispatchedSession(t, store, media)

	q := &memQueue{}
	rec := &memRecorder{}
	d := NewQueueDispatcher(store, q, rec, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), sess, 72))

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, "8", job.ChatID)
	assert.Equal(t, "file-v", job.FileID)
	assert.True(t, job.ApplyFade)
	assert.Equal(t, "72", job.StatusMessageID)
	assert.Equal(t, models.IDList{"70", "71"}, job.MessagesToDelete)
	assert.NoError(t, job.Validate())
	assert.Equal(t, []string{job.JobID}, rec.ids)

	assert.Equal(t, session.StateIdle, store.StateOf(8))
	assert.NoFileExists(t, media)
}

func TestQueueDispatcherFailureStillReleases(t *testing.T) {
	store := session.NewStore(time.Hour, zerolog.Nop())
	sess := dispatchedSession(t, store, "")

	d := NewQueueDispatcher(store, &memQueue{err: errors.New("down")}, nil, zerolog.Nop())
	assert.Error(t, d.Dispatch(context.Background(), sess, 0))
	assert.Equal(t, session.StateIdle, store.StateOf(8))
}

type funcProcessor func(context.Context, pipeline.Request) error

func (f funcProcessor) Process(ctx context.Context, req pipeline.Request) error { return f(ctx, req) }

func TestInlineDispatcherHoldsChatUntilDone(t *testing.T) {
	store := session.NewStore(time.Hour, zerolog.Nop())
	sess := dispatchedSession(t, store, "/tmp/m.mp4")

	release := make(chan struct{})
	got := make(chan pipeline.Request, 1)
	proc := funcProcessor(func(_ context.Context, req pipeline.Request) error {
		got <- req
		<-release
		return errs.New(errs.KindRender, "ffmpeg.render", "failed")
	})

	runner := pipeline.NewRunner(1, zerolog.Nop())
	notifier := &failNotifier{failed: make(chan failure, 1)}
	d := NewInlineDispatcher(store, runner, proc, notifier, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), sess, 72))

	req := <-got
	assert.Equal(t, int64(8), req.ChatID)
	assert.Equal(t, "/tmp/m.mp4", req.MediaPath)
	assert.Equal(t, 72, req.StatusMessageID)
	assert.Equal(t, []string{"70", "71"}, req.MessagesToDelete)
	assert.Equal(t, session.StateDispatched, store.StateOf(8))

	close(release)
	runner.Wait()
	assert.Equal(t, session.StateIdle, store.StateOf(8))
	// Failures inside Process are reported by the pipeline itself.
	assert.Empty(t, notifier.failed)
}

type failure struct {
	chatID   int64
	statusID int
	err      error
}

type failNotifier struct {
	failed chan failure
}

func (n *failNotifier) Status(context.Context, int64, int, pipeline.Stage) {}

func (n *failNotifier) Failed(ctx context.Context, chatID int64, statusMessageID int, err error) {
	n.failed <- failure{chatID: chatID, statusID: statusMessageID, err: err}
}

func TestInlineDispatcherCleansUpWhenRenderNeverStarts(t *testing.T) {
	store := session.NewStore(time.Hour, zerolog.Nop())
	media := filepath.Join(t.TempDir(), "b.jpg")
	require.NoError(t, os.WriteFile(media, []byte("jpeg"), 0o644))
	sess := dispatchedSession(t, store, media)

	runner := pipeline.NewRunner(1, zerolog.Nop())
	busy := make(chan struct{})
	release := make(chan struct{})
	runner.Go(context.Background(), "other-chat", func(context.Context) error {
		close(busy)
		<-release
		return nil
	}, nil)
	<-busy

	processed := false
	proc := funcProcessor(func(context.Context, pipeline.Request) error {
		processed = true
		return nil
	})
	notifier := &failNotifier{failed: make(chan failure, 1)}
	d := NewInlineDispatcher(store, runner, proc, notifier, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, sess, 72))
	cancel()

	select {
	case f := <-notifier.failed:
		assert.Equal(t, int64(8), f.chatID)
		assert.Equal(t, 72, f.statusID)
		assert.True(t, errs.IsKind(f.err, errs.KindInternal))
	case <-time.After(5 * time.Second):
		t.Fatal("waiting render was never reported as failed")
	}

	close(release)
	runner.Wait()
	assert.False(t, processed)
	assert.NoFileExists(t, media)
	assert.Equal(t, session.StateIdle, store.StateOf(8))
}

func TestStatusNotifier(t *testing.T) {
	front := &fakeFront{}
	n := NewStatusNotifier(front, zerolog.Nop())
	ctx := context.Background()

	n.Status(ctx, 1, 40, pipeline.StageProcessing)
	assert.Equal(t, edit{MessageID: 40, Text: textProcessing}, front.lastEdit())

	n.Status(ctx, 1, 40, pipeline.StageDone)
	assert.Equal(t, edit{MessageID: 40, Text: textDone}, front.lastEdit())

	n.Status(ctx, 1, 0, pipeline.StageUploading)
	assert.Equal(t, textUploading, front.lastSent().Text)
}

func TestStatusNotifierRenderFailure(t *testing.T) {
	front := &fakeFront{}
	n := NewStatusNotifier(front, zerolog.Nop())
	err := errs.WithDetail(errs.KindRender, "ffmpeg.render", "compositor failed", "Invalid filter graph", errors.New("exit 1"))

	n.Failed(context.Background(), 1, 40, err)
	assert.Equal(t, edit{MessageID: 40, Text: "FFmpeg Error:\n`Invalid filter graph`", Markdown: true}, front.lastEdit())

	// Rejected markup falls back to plain text.
	front.editErr = errors.New("can't parse entities")
	n.Failed(context.Background(), 1, 41, err)
	assert.Equal(t, edit{MessageID: 41, Text: "FFmpeg Error:\n`Invalid filter graph`"}, front.lastEdit())
}
