package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/models"
)

// FileURLResolver turns a front-end file id into a downloadable URL.
// *tgbotapi.BotAPI satisfies it.
type FileURLResolver interface {
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramFiles downloads files referenced by Telegram file ids.
type TelegramFiles struct {
	resolver FileURLResolver
	client   *http.Client
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewTelegramFiles(resolver FileURLResolver, timeout time.Duration, logger zerolog.Logger) *TelegramFiles {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TelegramFiles{
		resolver: resolver,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: timeout,
		logger:  logger.With().Str("component", "telegram_files").Logger(),
	}
}

// Fetch streams the file behind fileID into destDir and returns its path.
// A partially written file is removed on failure.
func (f *TelegramFiles) Fetch(ctx context.Context, fileID string, kind models.MediaKind, destDir string) (string, error) {
	const op = "telegram.fetch"

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	fileURL, err := f.resolver.GetFileDirectURL(fileID)
	if err != nil {
		return "", errs.Wrap(errs.KindDownload, op, "failed to resolve file id", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", errs.Wrap(errs.KindDownload, op, "failed to create request", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindDownload, op, "download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errs.New(errs.KindDownload, op, fmt.Sprintf("download returned status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	dest := filepath.Join(destDir, "source"+extensionFor(fileURL, kind))
	out, err := os.Create(dest)
	if err != nil {
		return "", errs.Wrap(errs.KindDownload, op, "failed to create destination", err)
	}
	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(dest)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", errs.Wrap(errs.KindDownload, op, "failed to write media", copyErr)
	}

	f.logger.Debug().Str("file_id", fileID).Int64("bytes", n).Str("path", dest).Msg("downloaded media")
	return dest, nil
}

func extensionFor(fileURL string, kind models.MediaKind) string {
	if u, err := url.Parse(fileURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if kind == models.MediaVideo {
		return ".mp4"
	}
	return ".jpg"
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
