package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/errs"
)

// Submission is one finished render handed to the delivery endpoint.
type Submission struct {
	VideoPath        string
	FramePath        string
	ChatID           string
	MessagesToDelete []string
}

// Delivery posts finished renders to the service that sends them to users.
type Delivery struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

func NewDelivery(processURL string, timeout time.Duration, logger zerolog.Logger) *Delivery {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Delivery{
		url:     processURL,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger.With().Str("component", "delivery").Logger(),
	}
}

// Submit sends the video, the base64 preview frame, the chat id and the
// messages to retract as one multipart request. It does not retry.
func (d *Delivery) Submit(ctx context.Context, sub Submission) error {
	const op = "delivery.submit"

	frame, err := os.ReadFile(sub.FramePath)
	if err != nil {
		return errs.Wrap(errs.KindSubmission, op, "failed to read preview frame", err)
	}
	video, err := os.Open(sub.VideoPath)
	if err != nil {
		return errs.Wrap(errs.KindSubmission, op, "failed to open video", err)
	}
	defer video.Close()

	var deleteJSON []byte
	if len(sub.MessagesToDelete) > 0 {
		if deleteJSON, err = json.Marshal(sub.MessagesToDelete); err != nil {
			return errs.Wrap(errs.KindSubmission, op, "failed to encode messagesToDelete", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeSubmission(mw, video, filepath.Base(sub.VideoPath), frame, sub.ChatID, deleteJSON))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, pr)
	if err != nil {
		pr.Close()
		return errs.Wrap(errs.KindSubmission, op, "failed to create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindSubmission, op, "delivery endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errs.New(errs.KindSubmission, op, fmt.Sprintf("delivery rejected with status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	d.logger.Info().Str("chat_id", sub.ChatID).Int("status", resp.StatusCode).Msg("render delivered")
	return nil
}

func writeSubmission(mw *multipart.Writer, video io.Reader, videoName string, frame []byte, chatID string, deleteJSON []byte) error {
	fw, err := mw.CreateFormFile("video", videoName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, video); err != nil {
		return err
	}
	if err := mw.WriteField("imageData", base64.StdEncoding.EncodeToString(frame)); err != nil {
		return err
	}
	if err := mw.WriteField("chatId", chatID); err != nil {
		return err
	}
	if deleteJSON != nil {
		if err := mw.WriteField("messagesToDelete", string(deleteJSON)); err != nil {
			return err
		}
	}
	return mw.Close()
}
