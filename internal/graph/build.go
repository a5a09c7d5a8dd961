package graph

import (
	"strconv"

	"github.com/bobarin/captionreel/internal/compose"
)

// Compositor input indexes.
const (
	InputMedia   = 0
	InputCaption = 1
)

// Pad labels.
const (
	PadBackground  = "bg"
	PadScaled      = "scaled"
	PadCover       = "cover"
	PadCoverFading = "cover_fading"
	PadMedia       = "media"
	PadBgMedia     = "bg_media"
	PadVideoOut    = "vout"
	PadAudioOut    = "aout"
)

// Options selects the variant of the graph to build.
type Options struct {
	Plan      compose.Plan
	ApplyFade bool
	// WithAudio carries the media's audio stream to a second output.
	// Only set for video sources that actually have audio.
	WithAudio bool
}

// Build assembles and validates the compositing graph for opts.
func Build(opts Options) (*Graph, error) {
	p := opts.Plan
	d := seconds(p.Duration)
	g := New()

	g.Add(nil, PadBackground,
		"color=c="+p.BackgroundColor+":s="+size(p.CanvasWidth, p.CanvasHeight)+":d="+d)

	scaled := PadMedia
	if opts.ApplyFade {
		scaled = PadScaled
	}
	g.Add([]string{stream(InputMedia, "v")}, scaled,
		"scale="+strconv.Itoa(p.ScaledMediaWidth)+":"+strconv.Itoa(p.ScaledMediaHeight),
		"setpts=PTS-STARTPTS")

	if opts.ApplyFade {
		// A black cover one pixel taller than the media fades out over it,
		// so the media appears to fade in without flashing the background.
		g.Add(nil, PadCover,
			"color=c=black:s="+size(p.ScaledMediaWidth, p.ScaledMediaHeight+1)+":d="+d)
		g.Add([]string{PadCover}, PadCoverFading,
			"format=rgba",
			"fade=t=out:st=0:d="+seconds(p.FadeDuration)+":alpha=1")
		g.Add([]string{PadScaled, PadCoverFading}, PadMedia, "overlay=0:0")
	}

	g.Add([]string{PadBackground, PadMedia}, PadBgMedia,
		"overlay=(W-w)/2:"+strconv.Itoa(p.MediaY))
	g.Add([]string{PadBgMedia, stream(InputCaption, "v")}, PadVideoOut,
		"overlay=(W-w)/2:"+strconv.Itoa(p.CaptionY))
	g.MarkOutput(PadVideoOut)

	if opts.WithAudio {
		g.Add([]string{stream(InputMedia, "a")}, PadAudioOut, "asetpts=PTS-STARTPTS")
		g.MarkOutput(PadAudioOut)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func stream(index int, kind string) string {
	return strconv.Itoa(index) + ":" + kind
}

func size(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
