package bot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/logx"
	"github.com/bobarin/captionreel/internal/models"
	"github.com/bobarin/captionreel/internal/pipeline"
	"github.com/bobarin/captionreel/internal/services"
	"github.com/bobarin/captionreel/internal/session"
)

// Dispatcher hands a completed session to the render path. It owns the
// session's media file and must eventually Release the chat in the store.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess session.Session, statusMessageID int) error
}

// FrameSource gives /suggest a still of a video.
type FrameSource interface {
	Probe(ctx context.Context, path string, kind models.MediaKind) (models.MediaInfo, error)
	ExtractFrame(ctx context.Context, videoPath string, duration float64, outPath string) error
}

type ConversationOptions struct {
	Store           *session.Store
	FrontEnd        FrontEnd
	Fetcher         pipeline.Fetcher
	Dispatcher      Dispatcher
	Suggester       services.CaptionSuggester // optional
	Frames          FrameSource               // optional, video suggestions
	MediaDir        string
	DownloadTimeout time.Duration
	Logger          zerolog.Logger
}

type Conversation struct {
	store      *session.Store
	front      FrontEnd
	fetcher    pipeline.Fetcher
	dispatcher Dispatcher
	suggester  services.CaptionSuggester
	frames     FrameSource
	mediaDir   string
	timeout    time.Duration
	logger     zerolog.Logger

	background sync.WaitGroup
}

func NewConversation(opts ConversationOptions) (*Conversation, error) {
	if err := os.MkdirAll(opts.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	timeout := opts.DownloadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Conversation{
		store:      opts.Store,
		front:      opts.FrontEnd,
		fetcher:    opts.Fetcher,
		dispatcher: opts.Dispatcher,
		suggester:  opts.Suggester,
		frames:     opts.Frames,
		mediaDir:   opts.MediaDir,
		timeout:    timeout,
		logger:     opts.Logger.With().Str("component", "conversation").Logger(),
	}, nil
}

// HandleMedia starts a new session and downloads the media. It blocks for
// the download; callers run it off the update loop.
func (c *Conversation) HandleMedia(ctx context.Context, ev MediaEvent) {
	log := logx.FromCtx(logx.WithChat(ctx, ev.ChatID), c.logger)
	kind := models.MediaKind(ev.Kind)

	switch c.store.StateOf(ev.ChatID) {
	case session.StateDownloading, session.StateDispatched:
		c.reply(ctx, ev.ChatID, ev.MessageID, textBusy)
		return
	}

	statusID, err := c.front.Reply(ctx, ev.ChatID, ev.MessageID, textDownloading)
	if err != nil {
		log.Warn().Err(err).Msg("failed to send download status")
	}

	if err := c.store.BeginDownload(ev.ChatID, kind, ev.FileID, statusID); err != nil {
		if errors.Is(err, session.ErrBusy) {
			c.edit(ctx, ev.ChatID, statusID, textBusy)
			return
		}
		log.Error().Err(err).Msg("failed to begin session")
		c.edit(ctx, ev.ChatID, statusID, textDownloadFailed)
		return
	}

	path, err := c.download(ctx, ev.ChatID, ev.FileID, kind)
	if err != nil {
		log.Error().Err(err).Str("file_id", ev.FileID).Msg("media download failed")
		c.store.FailDownload(ev.ChatID)
		c.edit(ctx, ev.ChatID, statusID, textDownloadFailed)
		return
	}

	if err := c.store.CompleteDownload(ev.ChatID, path); err != nil {
		// Session was discarded while downloading.
		_ = os.Remove(path)
		return
	}
	log.Info().Str("kind", ev.Kind).Msg("media received")
	c.edit(ctx, ev.ChatID, statusID, textMediaReceived)
}

// download fetches fileID into its own directory, then moves it to a
// chat-scoped name in the media dir so the session owns a single file.
func (c *Conversation) download(ctx context.Context, chatID int64, fileID string, kind models.MediaKind) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tmp, err := os.MkdirTemp(c.mediaDir, "dl-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	fetched, err := c.fetcher.Fetch(ctx, fileID, kind, tmp)
	if err != nil {
		return "", err
	}

	id := strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
	dest := filepath.Join(c.mediaDir, fmt.Sprintf("%d_%s%s", chatID, id, filepath.Ext(fetched)))
	if err := os.Rename(fetched, dest); err != nil {
		return "", fmt.Errorf("failed to move media: %w", err)
	}
	return dest, nil
}

// Wait blocks until commands handled in the background have finished.
func (c *Conversation) Wait() {
	c.background.Wait()
}

// HandleText routes commands and caption text. /suggest is answered on its
// own goroutine.
func (c *Conversation) HandleText(ctx context.Context, ev TextEvent) {
	switch ev.Command {
	case "":
	case "start", "help":
		c.send(ctx, ev.ChatID, textStart)
		return
	case "cancel":
		c.handleCancel(ctx, ev)
		return
	case "suggest":
		// Suggestions call out to a model and must not hold up other chats.
		c.background.Add(1)
		go func() {
			defer c.background.Done()
			c.handleSuggest(ctx, ev)
		}()
		return
	default:
		c.reply(ctx, ev.ChatID, ev.MessageID, textNeedMedia)
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	switch c.store.SetCaption(ev.ChatID, text) {
	case session.CaptionNeedsMedia:
		c.reply(ctx, ev.ChatID, ev.MessageID, textNeedMedia)
	case session.CaptionIgnored:
		if c.store.StateOf(ev.ChatID) == session.StateAwaitingFadeChoice {
			c.reply(ctx, ev.ChatID, ev.MessageID, textChooseFade)
			return
		}
		c.reply(ctx, ev.ChatID, ev.MessageID, textBusy)
	case session.CaptionAccepted:
		promptID, err := c.front.SendChoice(ctx, ev.ChatID, textFadePrompt, []Option{
			{Label: "Yes", Data: ChoiceFadeYes},
			{Label: "No", Data: ChoiceFadeNo},
		})
		if err != nil {
			c.logger.Warn().Err(err).Int64("chat_id", ev.ChatID).Msg("failed to send fade prompt")
			return
		}
		c.store.AddMessageToDelete(ev.ChatID, promptID)
	}
}

// HandleChoice consumes the fade choice and dispatches the render. Only the
// first choice for a session dispatches; every later one is told it expired.
func (c *Conversation) HandleChoice(ctx context.Context, ev ChoiceEvent) {
	log := logx.FromCtx(logx.WithChat(ctx, ev.ChatID), c.logger)

	if ev.Data != ChoiceFadeYes && ev.Data != ChoiceFadeNo {
		c.answer(ctx, ev.CallbackID, "", false)
		return
	}
	applyFade := ev.Data == ChoiceFadeYes

	sess, err := c.store.ChooseFade(ev.ChatID, applyFade)
	if err != nil {
		c.answer(ctx, ev.CallbackID, textExpiredAlert, true)
		c.edit(ctx, ev.ChatID, ev.MessageID, textExpired)
		return
	}
	c.answer(ctx, ev.CallbackID, "", false)

	choice := "No"
	if applyFade {
		choice = "Yes"
	}
	c.edit(ctx, ev.ChatID, ev.MessageID, "Fade-in effect: "+choice)

	statusID, err := c.front.Send(ctx, ev.ChatID, textQueued)
	if err != nil {
		log.Warn().Err(err).Msg("failed to send queue status")
	}
	if statusID != 0 {
		sess.MessagesToDelete = append(sess.MessagesToDelete, statusID)
	}

	if err := c.dispatcher.Dispatch(ctx, sess, statusID); err != nil {
		log.Error().Err(err).Msg("dispatch failed")
		c.edit(ctx, ev.ChatID, statusID, textDispatchFailed)
		return
	}
	log.Info().Bool("fade", applyFade).Str("kind", string(sess.MediaKind)).Msg("render dispatched")
}

func (c *Conversation) handleCancel(ctx context.Context, ev TextEvent) {
	if c.store.Discard(ev.ChatID) {
		c.reply(ctx, ev.ChatID, ev.MessageID, textCancelled)
		return
	}
	c.reply(ctx, ev.ChatID, ev.MessageID, textNothingCancel)
}

// handleSuggest asks the configured model for a caption. Session state is
// left untouched.
func (c *Conversation) handleSuggest(ctx context.Context, ev TextEvent) {
	if c.suggester == nil {
		c.reply(ctx, ev.ChatID, ev.MessageID, textSuggestOff)
		return
	}
	sess, ok := c.store.Get(ev.ChatID)
	if !ok || sess.MediaPath == "" {
		c.reply(ctx, ev.ChatID, ev.MessageID, textSuggestNoMedia)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	imagePath := sess.MediaPath
	if sess.MediaKind == models.MediaVideo {
		if c.frames == nil {
			c.reply(ctx, ev.ChatID, ev.MessageID, textSuggestOff)
			return
		}
		frame, err := c.stillOf(ctx, sess.MediaPath)
		if err != nil {
			c.logger.Warn().Err(err).Int64("chat_id", ev.ChatID).Msg("failed to extract frame for suggestion")
			c.reply(ctx, ev.ChatID, ev.MessageID, textSuggestFailed)
			return
		}
		defer os.Remove(frame)
		imagePath = frame
	}

	caption, err := c.suggester.Suggest(ctx, imagePath)
	if err != nil {
		c.logger.Warn().Err(err).Int64("chat_id", ev.ChatID).Msg("caption suggestion failed")
		c.reply(ctx, ev.ChatID, ev.MessageID, textSuggestFailed)
		return
	}
	c.reply(ctx, ev.ChatID, ev.MessageID, "💡 "+caption)
}

func (c *Conversation) stillOf(ctx context.Context, videoPath string) (string, error) {
	info, err := c.frames.Probe(ctx, videoPath, models.MediaVideo)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(c.mediaDir, "suggest-*.jpg")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()
	if err := c.frames.ExtractFrame(ctx, videoPath, info.DurationSeconds, path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (c *Conversation) reply(ctx context.Context, chatID int64, replyTo int, text string) {
	if _, err := c.front.Reply(ctx, chatID, replyTo, text); err != nil {
		c.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to reply")
	}
}

func (c *Conversation) send(ctx context.Context, chatID int64, text string) {
	if _, err := c.front.Send(ctx, chatID, text); err != nil {
		c.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send")
	}
}

func (c *Conversation) edit(ctx context.Context, chatID int64, messageID int, text string) {
	if messageID == 0 {
		c.send(ctx, chatID, text)
		return
	}
	if err := c.front.Edit(ctx, chatID, messageID, text, false); err != nil {
		c.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to edit message")
	}
}

func (c *Conversation) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := c.front.AnswerChoice(ctx, callbackID, text, alert); err != nil {
		c.logger.Warn().Err(err).Msg("failed to answer callback")
	}
}
