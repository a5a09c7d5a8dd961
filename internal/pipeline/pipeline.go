// Package pipeline runs one render from a file reference to a delivered
// video: fetch, probe, caption band, plan, graph, render, frame, submit.
package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/compose"
	"github.com/bobarin/captionreel/internal/graph"
	"github.com/bobarin/captionreel/internal/logx"
	"github.com/bobarin/captionreel/internal/models"
	"github.com/bobarin/captionreel/internal/services"
)

type Fetcher interface {
	Fetch(ctx context.Context, fileID string, kind models.MediaKind, destDir string) (string, error)
}

type Prober interface {
	Probe(ctx context.Context, path string, kind models.MediaKind) (models.MediaInfo, error)
}

type Renderer interface {
	Render(ctx context.Context, req services.RenderRequest) error
	ExtractFrame(ctx context.Context, videoPath string, duration float64, outPath string) error
}

type Submitter interface {
	Submit(ctx context.Context, sub services.Submission) error
}

type CaptionWriter interface {
	WritePNG(text, path string) (int, error)
}

// Stage is a user-visible progress step.
type Stage int

const (
	StageQueued Stage = iota
	StageProcessing
	StageUploading
	StageDone
)

// Notifier reports progress and failures back to the requesting chat.
type Notifier interface {
	Status(ctx context.Context, chatID int64, statusMessageID int, stage Stage)
	Failed(ctx context.Context, chatID int64, statusMessageID int, err error)
}

// Request is everything one render needs. MediaPath, when set, is a file
// already downloaded by the front end; the pipeline takes ownership of it
// and removes it when done. Otherwise FileID is fetched.
type Request struct {
	JobID            string
	ChatID           int64
	FileID           string
	MediaPath        string
	MediaKind        models.MediaKind
	CaptionText      string
	ApplyFade        bool
	StatusMessageID  int
	MessagesToDelete []string
}

// RequestFromJob converts a decoded queue job.
func RequestFromJob(job *models.Job) (Request, error) {
	chatID, err := job.ChatIDInt()
	if err != nil {
		return Request{}, fmt.Errorf("invalid chat id %q: %w", job.ChatID, err)
	}
	return Request{
		JobID:            job.JobID,
		ChatID:           chatID,
		FileID:           job.FileID,
		MediaKind:        job.MediaKind,
		CaptionText:      job.CaptionText,
		ApplyFade:        job.ApplyFade,
		StatusMessageID:  job.StatusMessageIDInt(),
		MessagesToDelete: []string(job.MessagesToDelete),
	}, nil
}

// IntIDs formats front-end message ids for delivery.
func IntIDs(ids []int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.Itoa(id))
	}
	return out
}

type Deps struct {
	Fetcher   Fetcher
	Prober    Prober
	Renderer  Renderer
	Submitter Submitter
	Captions  CaptionWriter
	Notifier  Notifier
}

type Pipeline struct {
	deps     Deps
	settings compose.Settings
	tempDir  string
	logger   zerolog.Logger
}

func New(deps Deps, settings compose.Settings, tempDir string, logger zerolog.Logger) (*Pipeline, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &Pipeline{
		deps:     deps,
		settings: settings,
		tempDir:  tempDir,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Process runs req to completion. Whatever the outcome, the scratch
// directory and any handed-over media are removed before it returns, and
// a failure is reported to the chat.
func (p *Pipeline) Process(ctx context.Context, req Request) (err error) {
	ctx = logx.WithJob(logx.WithChat(ctx, req.ChatID), req.JobID)
	log := logx.FromCtx(ctx, p.logger)

	if req.MediaPath != "" {
		defer removeFile(log, req.MediaPath)
	}

	scratch := filepath.Join(p.tempDir, "render-"+strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()))
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		err = fmt.Errorf("failed to create scratch dir: %w", err)
		p.deps.Notifier.Failed(ctx, req.ChatID, req.StatusMessageID, err)
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", scratch).Msg("failed to remove scratch dir")
		}
	}()

	defer func() {
		if err != nil {
			log.Error().Err(err).Msg("render failed")
			p.deps.Notifier.Failed(ctx, req.ChatID, req.StatusMessageID, err)
		}
	}()

	started := time.Now()
	p.deps.Notifier.Status(ctx, req.ChatID, req.StatusMessageID, StageProcessing)

	mediaPath := req.MediaPath
	if mediaPath == "" {
		if mediaPath, err = p.deps.Fetcher.Fetch(ctx, req.FileID, req.MediaKind, scratch); err != nil {
			return err
		}
	}

	info, err := p.deps.Prober.Probe(ctx, mediaPath, req.MediaKind)
	if err != nil {
		return err
	}

	captionPath := filepath.Join(scratch, "caption.png")
	bandHeight, err := p.deps.Captions.WritePNG(req.CaptionText, captionPath)
	if err != nil {
		return err
	}

	plan, err := compose.NewPlan(info, req.MediaKind, bandHeight, p.settings)
	if err != nil {
		return err
	}
	if issues := plan.OutOfBounds(); len(issues) > 0 {
		log.Warn().Strs("issues", issues).Int("media_y", plan.MediaY).Int("caption_y", plan.CaptionY).
			Msg("composition extends past the canvas")
	}

	g, err := graph.Build(graph.Options{
		Plan:      plan,
		ApplyFade: req.ApplyFade,
		WithAudio: req.MediaKind == models.MediaVideo && info.HasAudio,
	})
	if err != nil {
		return err
	}

	outputPath := filepath.Join(scratch, "output.mp4")
	if err = p.deps.Renderer.Render(ctx, services.RenderRequest{
		MediaPath:   mediaPath,
		MediaKind:   req.MediaKind,
		CaptionPath: captionPath,
		Graph:       g,
		Duration:    plan.Duration,
		FPS:         p.settings.FPS,
		OutputPath:  outputPath,
	}); err != nil {
		return err
	}

	p.deps.Notifier.Status(ctx, req.ChatID, req.StatusMessageID, StageUploading)

	framePath := filepath.Join(scratch, "frame.jpg")
	if err = p.deps.Renderer.ExtractFrame(ctx, outputPath, plan.Duration, framePath); err != nil {
		return err
	}

	if err = p.deps.Submitter.Submit(ctx, services.Submission{
		VideoPath:        outputPath,
		FramePath:        framePath,
		ChatID:           strconv.FormatInt(req.ChatID, 10),
		MessagesToDelete: req.MessagesToDelete,
	}); err != nil {
		return err
	}

	p.deps.Notifier.Status(ctx, req.ChatID, req.StatusMessageID, StageDone)
	log.Info().
		Str("kind", string(req.MediaKind)).
		Bool("fade", req.ApplyFade).
		Int("scaled_h", plan.ScaledMediaHeight).
		Float64("duration", plan.Duration).
		Dur("took", time.Since(started)).
		Msg("render delivered")
	return nil
}

func removeFile(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove media")
	}
}
