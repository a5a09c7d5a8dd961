package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/models"
	"github.com/bobarin/captionreel/internal/pipeline"
	"github.com/bobarin/captionreel/internal/services"
)

func newRenderCommand() *cobra.Command {
	var (
		caption   string
		fade      bool
		out       string
		framePath string
		kind      string
	)

	cmd := &cobra.Command{
		Use:   "render <media>",
		Short: "Render one captioned video from a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if strings.TrimSpace(caption) == "" {
				return fmt.Errorf("--caption is required")
			}
			mediaKind := models.MediaKind(kind)
			if kind == "" {
				mediaKind = kindFromExt(args[0])
			}
			if !mediaKind.Valid() {
				return fmt.Errorf("cannot tell whether %s is an image or a video; pass --kind", args[0])
			}
			return runRender(args[0], mediaKind, caption, fade, out, framePath)
		},
	}

	cmd.Flags().StringVarP(&caption, "caption", "c", "", "Caption text shown above the media")
	cmd.Flags().BoolVar(&fade, "fade", false, "Fade the media in from black")
	cmd.Flags().StringVarP(&out, "out", "o", "captionreel.mp4", "Output video path")
	cmd.Flags().StringVar(&framePath, "frame", "", "Also write the midpoint still to this path")
	cmd.Flags().StringVar(&kind, "kind", "", "image or video (default: from the file extension)")

	return cmd
}

func kindFromExt(path string) models.MediaKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return models.MediaImage
	case ".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v":
		return models.MediaVideo
	}
	return ""
}

func runRender(src string, kind models.MediaKind, caption string, fade bool, out, framePath string) error {
	cfg, logger, err := loadConfig("render")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	// The pipeline removes the media it is handed, so it gets a copy.
	work := filepath.Join(cfg.TempDir, "local")
	if err := os.MkdirAll(work, 0o755); err != nil {
		return err
	}
	media, err := os.CreateTemp(work, "input-*"+filepath.Ext(src))
	if err != nil {
		return err
	}
	media.Close()
	if err := copyFile(src, media.Name()); err != nil {
		os.Remove(media.Name())
		return fmt.Errorf("failed to read %s: %w", src, err)
	}

	ffmpeg := newFFmpeg(cfg, logger)
	p, err := newPipeline(cfg, pipeline.Deps{
		Prober:    ffmpeg,
		Renderer:  ffmpeg,
		Submitter: localSubmitter{videoPath: out, framePath: framePath},
		Notifier:  logNotifier{logger: logger},
	}, logger)
	if err != nil {
		os.Remove(media.Name())
		return err
	}

	err = p.Process(ctx, pipeline.Request{
		JobID:       "local",
		MediaPath:   media.Name(),
		MediaKind:   kind,
		CaptionText: caption,
		ApplyFade:   fade,
	})
	if err != nil {
		if d := errs.DetailOf(err); d != "" {
			fmt.Fprintln(os.Stderr, d)
		}
		return err
	}
	fmt.Println(out)
	return nil
}

// localSubmitter copies the finished render out of scratch space.
type localSubmitter struct {
	videoPath string
	framePath string
}

func (s localSubmitter) Submit(_ context.Context, sub services.Submission) error {
	if err := copyFile(sub.VideoPath, s.videoPath); err != nil {
		return errs.Wrap(errs.KindSubmission, "local.submit", "failed to write video", err)
	}
	if s.framePath != "" {
		if err := copyFile(sub.FramePath, s.framePath); err != nil {
			return errs.Wrap(errs.KindSubmission, "local.submit", "failed to write frame", err)
		}
	}
	return nil
}

type logNotifier struct {
	logger zerolog.Logger
}

func (n logNotifier) Status(_ context.Context, _ int64, _ int, stage pipeline.Stage) {
	names := map[pipeline.Stage]string{
		pipeline.StageProcessing: "processing",
		pipeline.StageUploading:  "writing output",
		pipeline.StageDone:       "done",
	}
	if name, ok := names[stage]; ok {
		n.logger.Info().Msg(name)
	}
}

func (n logNotifier) Failed(_ context.Context, _ int64, _ int, err error) {
	n.logger.Error().Err(err).Str("kind", string(errs.KindOf(err))).Msg("render failed")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
