package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Telegram implements FrontEnd on the Bot API.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	return &Telegram{api: api}, nil
}

// API exposes the client, e.g. as a file URL resolver.
func (t *Telegram) API() *tgbotapi.BotAPI {
	return t.api
}

func (t *Telegram) Reply(_ context.Context, chatID int64, replyTo int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *Telegram) Send(_ context.Context, chatID int64, text string) (int, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendChoice(_ context.Context, chatID int64, text string, options []Option) (int, error) {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, o := range options {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(o.Label, o.Data))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *Telegram) Edit(_ context.Context, chatID int64, messageID int, text string, markdown bool) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if markdown {
		edit.ParseMode = tgbotapi.ModeMarkdown
	}
	_, err := t.api.Request(edit)
	return err
}

func (t *Telegram) AnswerChoice(_ context.Context, callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	_, err := t.api.Request(cb)
	return err
}

// Poll feeds Telegram updates to conv until ctx is done. Media downloads
// and suggestions run on their own goroutines; everything else is handled
// in order.
func (t *Telegram) Poll(ctx context.Context, conv *Conversation, logger zerolog.Logger) {
	logger = logger.With().Str("component", "telegram").Logger()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)
	logger.Info().Str("bot", t.api.Self.UserName).Msg("polling for updates")

	var wg sync.WaitGroup
	defer wg.Wait()
	defer conv.Wait()

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.route(ctx, conv, update, &wg)
		}
	}
}

func (t *Telegram) route(ctx context.Context, conv *Conversation, update tgbotapi.Update, wg *sync.WaitGroup) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return
		}
		conv.HandleChoice(ctx, ChoiceEvent{
			ChatID:     cq.Message.Chat.ID,
			MessageID:  cq.Message.MessageID,
			CallbackID: cq.ID,
			Data:       cq.Data,
		})
		return
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	if ev, ok := mediaEvent(msg); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv.HandleMedia(ctx, ev)
		}()
		return
	}

	conv.HandleText(ctx, TextEvent{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Command:   msg.Command(),
	})
}

// mediaEvent extracts a photo, video or image/video document.
func mediaEvent(msg *tgbotapi.Message) (MediaEvent, bool) {
	ev := MediaEvent{ChatID: msg.Chat.ID, MessageID: msg.MessageID}
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ascending; the last is the original resolution.
		ev.FileID = msg.Photo[len(msg.Photo)-1].FileID
		ev.Kind = "image"
	case msg.Video != nil:
		ev.FileID = msg.Video.FileID
		ev.Kind = "video"
	case msg.Animation != nil:
		ev.FileID = msg.Animation.FileID
		ev.Kind = "video"
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		ev.FileID = msg.Document.FileID
		ev.Kind = "image"
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/"):
		ev.FileID = msg.Document.FileID
		ev.Kind = "video"
	default:
		return MediaEvent{}, false
	}
	return ev, true
}
