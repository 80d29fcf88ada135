// Package annotate draws numbered detection overlays onto a raster surface.
package annotate

import (
	"image"
	"image/color"
)

// Surface is a drawable raster the renderer paints onto.
type Surface interface {
	// Bounds returns the drawable area.
	Bounds() image.Rectangle
	// Clear resets every pixel to transparent.
	Clear()
	// DrawImage paints img over the whole surface, scaling it to fit.
	DrawImage(img image.Image)
	// StrokeRect outlines r with a line of the given width drawn inward.
	StrokeRect(r image.Rectangle, c color.Color, width int)
	// FillRect fills r.
	FillRect(r image.Rectangle, c color.Color)
	// DrawText draws text with its baseline starting at (x, y).
	DrawText(text string, x, y int, c color.Color)
	// Image returns the current pixel buffer.
	Image() image.Image
}
