// Package compose computes the pixel geometry of a render: how the media is
// scaled onto the canvas, where the caption band sits and how long it runs.
package compose

import (
	"fmt"
	"math"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/models"
)

// Settings are the fixed composition constants.
type Settings struct {
	CanvasWidth     int
	CanvasHeight    int
	VerticalOffset  int
	ImageDuration   float64 // seconds
	FadeDuration    float64 // seconds
	FPS             int
	BackgroundColor string
	Caption         CaptionStyle
}

func DefaultSettings() Settings {
	return Settings{
		CanvasWidth:     1080,
		CanvasHeight:    1920,
		VerticalOffset:  100,
		ImageDuration:   8,
		FadeDuration:    6,
		FPS:             30,
		BackgroundColor: "black",
		Caption:         DefaultCaptionStyle(),
	}
}

// Plan is the derived, read-only geometry of one render.
type Plan struct {
	CanvasWidth       int
	CanvasHeight      int
	ScaleRatio        float64
	ScaledMediaWidth  int
	ScaledMediaHeight int
	CaptionBandHeight int
	MediaY            int
	CaptionY          int
	Duration          float64
	FadeDuration      float64
	BackgroundColor   string
}

// NewPlan derives the geometry for media of the given kind. Images run for
// the fixed image duration; videos for their probed duration.
func NewPlan(info models.MediaInfo, kind models.MediaKind, captionBandHeight int, s Settings) (Plan, error) {
	const op = "compose.plan"

	if info.Width <= 0 || info.Height <= 0 {
		return Plan{}, errs.New(errs.KindPlan, op, fmt.Sprintf("invalid media dimensions %dx%d", info.Width, info.Height))
	}
	if captionBandHeight < 0 {
		return Plan{}, errs.New(errs.KindPlan, op, "negative caption band height")
	}
	if s.CanvasWidth <= 0 || s.CanvasHeight <= 0 {
		return Plan{}, errs.New(errs.KindPlan, op, "invalid canvas size")
	}

	var duration float64
	switch kind {
	case models.MediaImage:
		duration = s.ImageDuration
	case models.MediaVideo:
		duration = info.DurationSeconds
	default:
		return Plan{}, errs.New(errs.KindPlan, op, fmt.Sprintf("unknown media kind %q", kind))
	}
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return Plan{}, errs.New(errs.KindPlan, op, fmt.Sprintf("invalid duration %v", duration))
	}

	ratio := float64(s.CanvasWidth) / float64(info.Width)
	scaledH := int(math.Round(float64(info.Height) * ratio))
	if scaledH < 1 {
		scaledH = 1
	}
	mediaY := (s.CanvasHeight-scaledH)/2 + s.VerticalOffset

	return Plan{
		CanvasWidth:       s.CanvasWidth,
		CanvasHeight:      s.CanvasHeight,
		ScaleRatio:        ratio,
		ScaledMediaWidth:  s.CanvasWidth,
		ScaledMediaHeight: scaledH,
		CaptionBandHeight: captionBandHeight,
		MediaY:            mediaY,
		CaptionY:          mediaY - captionBandHeight + 1,
		Duration:          duration,
		FadeDuration:      s.FadeDuration,
		BackgroundColor:   s.BackgroundColor,
	}, nil
}

// OutOfBounds describes placement that falls off the canvas. Such plans
// still render; the compositor clips whatever lies outside the frame.
func (p Plan) OutOfBounds() []string {
	var issues []string
	if p.CaptionY < 0 {
		issues = append(issues, fmt.Sprintf("caption starts %dpx above the canvas", -p.CaptionY))
	}
	if bottom := p.MediaY + p.ScaledMediaHeight; bottom > p.CanvasHeight {
		issues = append(issues, fmt.Sprintf("media ends %dpx below the canvas", bottom-p.CanvasHeight))
	}
	return issues
}
