package annotate

import (
	"image"
	"image/color"
	"strconv"

	"github.com/chewxy/math32"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/models/postprocess"
)

const (
	// LoadingText is shown while a detection run is in flight.
	LoadingText = "Loading..."
	// ErrorText is the indicator drawn when a detection run fails.
	ErrorText = "Inference error"
)

// Style controls how overlays are painted.
type Style struct {
	Stroke      color.Color
	LineWidth   int
	LabelHeight int
	Banner      color.Color
	Text        color.Color
	Error       color.Color
}

// DefaultStyle returns the red outline style.
func DefaultStyle() Style {
	return Style{
		Stroke:      color.RGBA{R: 255, A: 255},
		LineWidth:   2,
		LabelHeight: 16,
		Banner:      color.White,
		Text:        color.Black,
		Error:       color.RGBA{R: 255, A: 255},
	}
}

// ParseStyle builds a Style from hex colour strings such as "#ff0000".
// Non-positive sizes fall back to the defaults.
func ParseStyle(stroke string, lineWidth, labelHeight int) (Style, error) {
	style := DefaultStyle()

	if stroke != "" {
		c, err := colorful.Hex(stroke)
		if err != nil {
			return Style{}, errors.Wrapf(err, "parse stroke colour %q", stroke)
		}
		r, g, b := c.RGB255()
		style.Stroke = color.RGBA{R: r, G: g, B: b, A: 255}
		style.Error = style.Stroke
	}
	if lineWidth > 0 {
		style.LineWidth = lineWidth
	}
	if labelHeight > 0 {
		style.LabelHeight = labelHeight
	}

	return style, nil
}

// Renderer paints annotated boxes and status indicators onto a Surface.
type Renderer struct {
	style Style
}

// NewRenderer creates a renderer with the given style.
func NewRenderer(style Style) *Renderer {
	return &Renderer{style: style}
}

// Style returns the renderer's style.
func (r *Renderer) Style() Style {
	return r.style
}

// Draw outlines each box and labels it with its ID, in the order given.
//
// The label sits just above the top-left corner. When that would be clipped
// by the top of the surface it is drawn inside the box instead.
func (r *Renderer) Draw(s Surface, boxes []postprocess.Box) {
	for _, b := range boxes {
		rect := BoxRect(b)
		s.StrokeRect(rect, r.style.Stroke, r.style.LineWidth)

		x, y := r.LabelPosition(b)
		s.DrawText(strconv.Itoa(b.ID), x, y, r.style.Stroke)
	}
}

// LabelPosition returns the baseline origin of a box's ID label.
func (r *Renderer) LabelPosition(b postprocess.Box) (int, int) {
	x := int(math32.Round(b.X0)) + 4
	y := int(math32.Round(b.Y0)) - 4
	if y < r.style.LabelHeight {
		y = int(math32.Round(b.Y0)) + r.style.LabelHeight
	}
	return x, y
}

// DrawLoading paints the in-progress banner in the top-left corner.
func (r *Renderer) DrawLoading(s Surface) {
	s.FillRect(image.Rect(0, 0, 150, 24), r.style.Banner)
	s.DrawText(LoadingText, 10, 17, r.style.Text)
}

// DrawError paints msg as an error indicator.
func (r *Renderer) DrawError(s Surface, msg string) {
	s.DrawText(msg, 10, 20, r.style.Error)
}

// BoxRect converts a box to integer pixel bounds.
func BoxRect(b postprocess.Box) image.Rectangle {
	return image.Rect(
		int(math32.Round(b.X0)),
		int(math32.Round(b.Y0)),
		int(math32.Round(b.X0+b.Width)),
		int(math32.Round(b.Y0+b.Height)),
	)
}
