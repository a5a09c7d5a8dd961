package services

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/captionreel/internal/compose"
	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/graph"
	"github.com/bobarin/captionreel/internal/models"
)

func testGraph(t *testing.T, kind models.MediaKind, withAudio bool) (*graph.Graph, compose.Plan) {
	t.Helper()
	info := models.MediaInfo{Width: 600, Height: 800, DurationSeconds: 4, HasAudio: withAudio}
	plan, err := compose.NewPlan(info, kind, 150, compose.DefaultSettings())
	require.NoError(t, err)
	g, err := graph.Build(graph.Options{Plan: plan, WithAudio: withAudio})
	require.NoError(t, err)
	return g, plan
}

func TestBuildRenderArgsImage(t *testing.T) {
	g, plan := testGraph(t, models.MediaImage, false)
	args := BuildRenderArgs(RenderRequest{
		MediaPath:   "/tmp/in.jpg",
		MediaKind:   models.MediaImage,
		CaptionPath: "/tmp/cap.png",
		Graph:       g,
		Duration:    plan.Duration,
		FPS:         30,
		OutputPath:  "/tmp/out.mp4",
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-loop 1 -t 8 -i /tmp/in.jpg -i /tmp/cap.png")
	assert.Contains(t, joined, "-map [vout]")
	assert.NotContains(t, joined, "[aout]")
	assert.Contains(t, joined, "-c:v libx264 -preset ultrafast -threads 2 -c:a aac -b:a 192k -r 30 -pix_fmt yuv420p /tmp/out.mp4")

	i := indexOf(args, "-filter_complex")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, g.String(), args[i+1])
}

func TestBuildRenderArgsVideoMapsAudio(t *testing.T) {
	g, plan := testGraph(t, models.MediaVideo, true)
	args := BuildRenderArgs(RenderRequest{
		MediaPath: "/tmp/in.mp4", MediaKind: models.MediaVideo, CaptionPath: "/tmp/cap.png",
		Graph: g, Duration: plan.Duration, OutputPath: "/tmp/out.mp4",
	})
	joined := strings.Join(args, " ")

	assert.NotContains(t, joined, "-loop")
	assert.Contains(t, joined, "-map [vout] -map [aout]")
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}

func TestParseProbeOutputVideo(t *testing.T) {
	raw := []byte(`{"streams":[
		{"codec_type":"video","width":1920,"height":1080,"duration":"12.500000"},
		{"codec_type":"audio","duration":"12.480000"}
	],"format":{"duration":"12.520000"}}`)

	info, err := parseProbeOutput(raw, models.MediaVideo)
	require.NoError(t, err)
	assert.Equal(t, models.MediaInfo{Width: 1920, Height: 1080, DurationSeconds: 12.5, HasAudio: true}, info)
}

func TestParseProbeOutputFallsBackToFormatDuration(t *testing.T) {
	raw := []byte(`{"streams":[{"codec_type":"video","width":720,"height":1280}],"format":{"duration":"3.2"}}`)
	info, err := parseProbeOutput(raw, models.MediaVideo)
	require.NoError(t, err)
	assert.Equal(t, 3.2, info.DurationSeconds)
	assert.False(t, info.HasAudio)
}

func TestParseProbeOutputErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"garbage":      `not json`,
		"no video":     `{"streams":[{"codec_type":"audio"}]}`,
		"no duration":  `{"streams":[{"codec_type":"video","width":10,"height":10}],"format":{}}`,
		"zero extents": `{"streams":[{"codec_type":"video","width":0,"height":0,"duration":"1"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseProbeOutput([]byte(raw), models.MediaVideo)
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.KindProbe))
		})
	}
}

func TestProbeImageInProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	svc := newTestService(t, "/nonexistent/ffmpeg")
	info, err := svc.Probe(context.Background(), path, models.MediaImage)
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)
}

func newTestService(t *testing.T, ffmpegPath string) *FFmpegService {
	t.Helper()
	return NewFFmpegService(FFmpegOptions{
		FFmpegPath:    ffmpegPath,
		FFprobePath:   "/nonexistent/ffprobe",
		RenderTimeout: 2 * time.Second,
		ProbeTimeout:  2 * time.Second,
		Logger:        zerolog.Nop(),
	})
}

// fakeBinary writes an executable shell script standing in for ffmpeg.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRenderFailureCarriesStderrTail(t *testing.T) {
	long := strings.Repeat("x", 3000)
	bin := fakeBinary(t, `echo "`+long+`" >&2; echo "Invalid filter graph" >&2; exit 1`)
	svc := newTestService(t, bin)
	g, plan := testGraph(t, models.MediaImage, false)

	err := svc.Render(context.Background(), RenderRequest{
		MediaPath: "in.jpg", MediaKind: models.MediaImage, CaptionPath: "cap.png",
		Graph: g, Duration: plan.Duration, OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRender))

	detail := errs.DetailOf(err)
	assert.LessOrEqual(t, len(detail), DiagnosticTailSize)
	assert.Contains(t, detail, "Invalid filter graph")
}

func TestRenderTimeout(t *testing.T) {
	bin := fakeBinary(t, `exec sleep 10`)
	svc := newTestService(t, bin)
	svc.renderTimeout = 200 * time.Millisecond
	g, plan := testGraph(t, models.MediaImage, false)

	start := time.Now()
	err := svc.Render(context.Background(), RenderRequest{
		MediaPath: "in.jpg", MediaKind: models.MediaImage, CaptionPath: "cap.png",
		Graph: g, Duration: plan.Duration, OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRender))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestRenderSuccess(t *testing.T) {
	// The fake compositor writes its last argument, the output path.
	bin := fakeBinary(t, `for last; do :; done; echo video > "$last"`)
	svc := newTestService(t, bin)
	g, plan := testGraph(t, models.MediaImage, false)
	out := filepath.Join(t.TempDir(), "out.mp4")

	err := svc.Render(context.Background(), RenderRequest{
		MediaPath: "in.jpg", MediaKind: models.MediaImage, CaptionPath: "cap.png",
		Graph: g, Duration: plan.Duration, OutputPath: out,
	})
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestRenderRejectsEmptyOutput(t *testing.T) {
	bin := fakeBinary(t, `exit 0`)
	svc := newTestService(t, bin)
	g, plan := testGraph(t, models.MediaImage, false)

	err := svc.Render(context.Background(), RenderRequest{
		MediaPath: "in.jpg", MediaKind: models.MediaImage, CaptionPath: "cap.png",
		Graph: g, Duration: plan.Duration, OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})
	assert.True(t, errs.IsKind(err, errs.KindRender))
}

func TestRenderRejectsInvalidGraph(t *testing.T) {
	svc := newTestService(t, "/nonexistent/ffmpeg")
	bad := graph.New().Add(nil, "a", "color=c=black").MarkOutput("ghost")

	err := svc.Render(context.Background(), RenderRequest{Graph: bad, OutputPath: "out.mp4"})
	assert.True(t, errs.IsKind(err, errs.KindPlan))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 5))
	assert.Equal(t, "cde", tail("abcde", 3))
	// The last five bytes of "мир" start inside "м".
	assert.Equal(t, "ир", tail("мир", 5))
	assert.True(t, utf8.ValidString(tail("мир", 5)))
}
