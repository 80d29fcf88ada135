package annotate

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Canvas is an in-memory Surface backed by an NRGBA buffer.
type Canvas struct {
	img *image.NRGBA
}

// NewCanvas allocates a transparent canvas of the given size.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{img: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// Bounds implements Surface.
func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

// Clear implements Surface.
func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// DrawImage implements Surface.
func (c *Canvas) DrawImage(img image.Image) {
	if img == nil {
		return
	}

	size := c.img.Bounds().Size()
	var src *image.NRGBA
	if img.Bounds().Size() == size {
		src = imaging.Clone(img)
	} else {
		src = imaging.Resize(img, size.X, size.Y, imaging.Lanczos)
	}

	draw.Draw(c.img, c.img.Bounds(), src, src.Bounds().Min, draw.Src)
}

// StrokeRect implements Surface.
func (c *Canvas) StrokeRect(r image.Rectangle, col color.Color, width int) {
	r = r.Canon()
	if width < 1 {
		width = 1
	}

	u := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), // top
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), // left
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		e = e.Intersect(r).Intersect(c.img.Bounds())
		if e.Empty() {
			continue
		}
		draw.Draw(c.img, e, u, image.Point{}, draw.Over)
	}
}

// FillRect implements Surface.
func (c *Canvas) FillRect(r image.Rectangle, col color.Color) {
	r = r.Canon().Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Over)
}

// DrawText implements Surface.
func (c *Canvas) DrawText(text string, x, y int, col color.Color) {
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// Image implements Surface.
func (c *Canvas) Image() image.Image {
	return c.img
}
