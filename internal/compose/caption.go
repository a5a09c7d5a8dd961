package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/bobarin/captionreel/internal/errs"
)

type CaptionStyle struct {
	FontPath        string // empty = built-in Go Bold
	FontSize        float64
	LineSpacing     int
	VerticalPadding int
	WrapWidth       int // characters per line
	TextColor       color.Color
	BandColor       color.Color
}

func DefaultCaptionStyle() CaptionStyle {
	return CaptionStyle{
		FontSize:        55,
		LineSpacing:     12,
		VerticalPadding: 37,
		WrapWidth:       30,
		TextColor:       color.Black,
		BandColor:       color.White,
	}
}

// Captioner wraps, measures and rasterizes caption bands with one font face.
type Captioner struct {
	style  CaptionStyle
	width  int
	face   font.Face
	ascent int
	lineH  int
}

// NewCaptioner loads the style's font at its configured size for a band
// of the given pixel width.
func NewCaptioner(style CaptionStyle, width int) (*Captioner, error) {
	data := gobold.TTF
	if style.FontPath != "" {
		b, err := os.ReadFile(style.FontPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read caption font: %w", err)
		}
		data = b
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse caption font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    style.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create caption font face: %w", err)
	}
	m := face.Metrics()
	return &Captioner{
		style:  style,
		width:  width,
		face:   face,
		ascent: m.Ascent.Ceil(),
		lineH:  m.Ascent.Ceil() + m.Descent.Ceil(),
	}, nil
}

// Lines wraps text at the style's character width.
func (c *Captioner) Lines(text string) []string {
	return WrapText(text, c.style.WrapWidth)
}

// BandHeight is the pixel height of the band for text.
func (c *Captioner) BandHeight(text string) int {
	return c.bandHeight(len(c.Lines(text)))
}

func (c *Captioner) bandHeight(lines int) int {
	h := 2 * c.style.VerticalPadding
	if lines > 0 {
		h += lines*c.lineH + (lines-1)*c.style.LineSpacing
	}
	return h
}

// Render draws the band with centered lines and returns it with its height.
func (c *Captioner) Render(text string) (*image.RGBA, int) {
	lines := c.Lines(text)
	height := c.bandHeight(len(lines))

	img := image.NewRGBA(image.Rect(0, 0, c.width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(c.style.BandColor), image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.NewUniform(c.style.TextColor), Face: c.face}
	for i, line := range lines {
		w := d.MeasureString(line).Ceil()
		x := (c.width - w) / 2
		y := c.style.VerticalPadding + i*(c.lineH+c.style.LineSpacing) + c.ascent
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
	}
	return img, height
}

// WritePNG renders the band for text into path and returns its height.
func (c *Captioner) WritePNG(text, path string) (int, error) {
	img, height := c.Render(text)

	f, err := os.Create(path)
	if err != nil {
		return 0, errs.Wrap(errs.KindPlan, "caption.write", "failed to create caption image", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return 0, errs.Wrap(errs.KindPlan, "caption.write", "failed to encode caption image", err)
	}
	return height, nil
}

// WrapText splits text on newlines and wraps each paragraph greedily at
// width runes. Words longer than width are split. Blank paragraphs are
// kept as empty lines.
func WrapText(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []string
	for _, para := range strings.Split(text, "\n") {
		lines := wrapParagraph(para, width)
		if len(lines) == 0 {
			lines = []string{""}
		}
		out = append(out, lines...)
	}
	return out
}

func wrapParagraph(para string, width int) []string {
	var lines []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(para) {
		for utf8.RuneCountInString(word) > 0 {
			wl := utf8.RuneCountInString(word)
			space := 0
			if curLen > 0 {
				space = 1
			}
			if curLen+space+wl <= width {
				if space == 1 {
					cur.WriteByte(' ')
				}
				cur.WriteString(word)
				curLen += space + wl
				break
			}
			if wl <= width {
				flush()
				continue
			}
			// Long word: fill the rest of the current line with a chunk of it.
			room := width - curLen - space
			if room <= 0 {
				flush()
				continue
			}
			head, tail := splitRunes(word, room)
			if space == 1 {
				cur.WriteByte(' ')
			}
			cur.WriteString(head)
			curLen += space + room
			flush()
			word = tail
		}
	}
	flush()
	return lines
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
