package images

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Stretch resizes img to exactly width×height, ignoring the aspect ratio, and
// returns a freshly allocated NRGBA buffer. The source image is never
// modified.
//
// Arguments:
//   - img: The image to resize.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *image.NRGBA: The resized copy.
func Stretch(img image.Image, width, height int) *image.NRGBA {
	size := img.Bounds().Size()
	if size.X == width && size.Y == height {
		return imaging.Clone(img)
	}

	resized := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	return imaging.Clone(resized)
}
