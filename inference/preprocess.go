package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// PrepareInput prepares the input for the ONNX model before inference is
// called.
//
// The image is stretched to size×size and written to dst in planar CHW order
// with values scaled to [0, 1].
//
// Arguments:
//   - img: The image to prepare.
//   - dst: The destination tensor data to populate.
//   - size: The model's square input size.
//
// Returns:
//   - error: An error if the input preparation fails.
func PrepareInput(img image.Image, dst []float32, size int) error {
	if img == nil {
		return errors.New("no image to prepare")
	}
	if size <= 0 {
		return errors.Errorf("invalid input size %d", size)
	}

	channelSize := size * size
	if len(dst) < channelSize*3 {
		return errors.Errorf("destination tensor only holds %d floats, needs "+
			"%d (make sure it's the right shape!)", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
		b = img.Bounds()
	}

	i := 0
	for y := b.Min.Y; y < b.Min.Y+size; y++ {
		for x := b.Min.X; x < b.Min.X+size; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}
