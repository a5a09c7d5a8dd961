package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/graph"
	"github.com/bobarin/captionreel/internal/logx"
	"github.com/bobarin/captionreel/internal/models"
)

// Encoding constants shared by every render.
const (
	videoCodec   = "libx264"
	videoPreset  = "ultrafast"
	videoThreads = "2"
	audioCodec   = "aac"
	audioBitrate = "192k"
	pixelFormat  = "yuv420p"

	// DiagnosticTailSize bounds how much compositor stderr is kept for errors.
	DiagnosticTailSize = 1000
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegOptions struct {
	FFmpegPath    string
	FFprobePath   string
	RenderTimeout time.Duration
	ProbeTimeout  time.Duration
	Logger        zerolog.Logger
}

type FFmpegService struct {
	ffmpeg        string
	ffprobe       string
	renderTimeout time.Duration
	probeTimeout  time.Duration
	logger        zerolog.Logger
}

func NewFFmpegService(opts FFmpegOptions) *FFmpegService {
	s := &FFmpegService{
		ffmpeg:        opts.FFmpegPath,
		ffprobe:       opts.FFprobePath,
		renderTimeout: opts.RenderTimeout,
		probeTimeout:  opts.ProbeTimeout,
		logger:        opts.Logger.With().Str("component", "ffmpeg").Logger(),
	}
	if s.ffmpeg == "" {
		s.ffmpeg = "ffmpeg"
	}
	if s.ffprobe == "" {
		s.ffprobe = "ffprobe"
	}
	if s.renderTimeout <= 0 {
		s.renderTimeout = 5 * time.Minute
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = 15 * time.Second
	}
	return s
}

// ---------------------------------------------------------------------------
// Probing
// ---------------------------------------------------------------------------

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads dimensions (and, for video, duration and audio presence).
// Images are decoded in-process; anything the decoders don't know falls
// back to ffprobe.
func (s *FFmpegService) Probe(ctx context.Context, path string, kind models.MediaKind) (models.MediaInfo, error) {
	if kind == models.MediaImage {
		if info, err := probeImage(path); err == nil {
			return info, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height,duration:format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = tail(string(exitErr.Stderr), DiagnosticTailSize)
		}
		return models.MediaInfo{}, errs.WithDetail(errs.KindProbe, "ffprobe", "failed to probe media", stderr, err)
	}

	info, err := parseProbeOutput(out, kind)
	if err != nil {
		return models.MediaInfo{}, err
	}
	return info, nil
}

func probeImage(path string) (models.MediaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.MediaInfo{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return models.MediaInfo{}, err
	}
	return models.MediaInfo{Width: cfg.Width, Height: cfg.Height}, nil
}

func parseProbeOutput(data []byte, kind models.MediaKind) (models.MediaInfo, error) {
	const op = "ffprobe.parse"

	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return models.MediaInfo{}, errs.Wrap(errs.KindProbe, op, "unreadable ffprobe output", err)
	}

	var info models.MediaInfo
	found := false
	for _, st := range out.Streams {
		switch st.CodecType {
		case "video":
			if found {
				continue
			}
			found = true
			info.Width, info.Height = st.Width, st.Height
			if d, err := strconv.ParseFloat(st.Duration, 64); err == nil {
				info.DurationSeconds = d
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if !found || info.Width <= 0 || info.Height <= 0 {
		return models.MediaInfo{}, errs.New(errs.KindProbe, op, "no video stream with dimensions")
	}
	if info.DurationSeconds <= 0 {
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
	}
	if kind == models.MediaVideo && info.DurationSeconds <= 0 {
		return models.MediaInfo{}, errs.New(errs.KindProbe, op, "video duration unavailable")
	}
	if kind == models.MediaImage {
		info.DurationSeconds = 0
		info.HasAudio = false
	}
	return info, nil
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

type RenderRequest struct {
	MediaPath   string
	MediaKind   models.MediaKind
	CaptionPath string
	Graph       *graph.Graph
	Duration    float64
	FPS         int
	OutputPath  string
}

// BuildRenderArgs returns the ffmpeg argument list for req. Input 0 is the
// media (looped for images) and input 1 the caption band.
func BuildRenderArgs(req RenderRequest) []string {
	args := []string{"-y", "-hide_banner"}
	if req.MediaKind == models.MediaImage {
		args = append(args, "-loop", "1", "-t", strconv.FormatFloat(req.Duration, 'f', -1, 64))
	}
	args = append(args,
		"-i", req.MediaPath,
		"-i", req.CaptionPath,
		"-filter_complex", req.Graph.String(),
	)
	for _, out := range req.Graph.Outputs() {
		args = append(args, "-map", "["+out+"]")
	}
	fps := req.FPS
	if fps <= 0 {
		fps = 30
	}
	args = append(args,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-threads", videoThreads,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-r", strconv.Itoa(fps),
		"-pix_fmt", pixelFormat,
		req.OutputPath,
	)
	return args
}

// Render runs the compositor to completion or until the render timeout.
// Any failure is a render error carrying the tail of ffmpeg's stderr.
func (s *FFmpegService) Render(ctx context.Context, req RenderRequest) error {
	const op = "ffmpeg.render"

	if req.Graph == nil {
		return errs.New(errs.KindPlan, op, "no filter graph")
	}
	if err := req.Graph.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.renderTimeout)
	defer cancel()

	args := BuildRenderArgs(req)
	s.logger.Debug().Strs("args", args).Msg("starting render")

	started := time.Now()
	tailBuf, err := s.run(ctx, args)
	if err != nil {
		diag := tail(tailBuf, DiagnosticTailSize)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errs.WithDetail(errs.KindRender, op,
				fmt.Sprintf("render timed out after %v", s.renderTimeout), diag, ctx.Err())
		}
		return errs.WithDetail(errs.KindRender, op, "compositor failed", diag, err)
	}

	if st, err := os.Stat(req.OutputPath); err != nil || st.Size() == 0 {
		return errs.WithDetail(errs.KindRender, op, "compositor produced no output", tail(tailBuf, DiagnosticTailSize), err)
	}

	s.logger.Info().Dur("took", time.Since(started)).Str("output", req.OutputPath).Msg("render finished")
	return nil
}

// ExtractFrame writes one JPEG frame taken at the midpoint of videoPath.
func (s *FFmpegService) ExtractFrame(ctx context.Context, videoPath string, duration float64, outPath string) error {
	const op = "ffmpeg.frame"

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	midpoint := strconv.FormatFloat(duration/2, 'f', 3, 64)
	args := []string{"-y", "-hide_banner", "-i", videoPath, "-ss", midpoint, "-frames:v", "1", "-q:v", "2", outPath}
	if out, err := s.run(ctx, args); err != nil {
		return errs.WithDetail(errs.KindRender, op, "frame extraction failed", tail(out, DiagnosticTailSize), err)
	}
	return nil
}

// run executes ffmpeg, streaming stderr to debug logs while keeping its tail.
func (s *FFmpegService) run(ctx context.Context, args []string) (string, error) {
	tailBuf := logx.NewTailBuffer(DiagnosticTailSize)
	lines := logx.NewLineWriter(s.logger, zerolog.DebugLevel)
	defer lines.Flush()

	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.MultiWriter(tailBuf, lines)
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	return tailBuf.String(), err
}

// tail returns at most the last n bytes of s, starting on a character
// boundary.
func tail(s string, n int) string {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return logx.ValidTail(s)
}
