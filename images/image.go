// Package images - Frame definition for processing utilities.
package images

import (
	"bytes"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultFrameSize is the canonical square frame edge all captures are
// normalized to before detection.
const DefaultFrameSize = 640

// Frame is a captured image frozen into the canonical frame size.
//
// The pixel buffer is owned by the frame and must not be mutated after Freeze
// returns; drawing happens on a copy.
type Frame struct {
	// ID uniquely identifies the capture.
	ID string `json:"id"`
	// Image is the canonical pixel buffer.
	Image *image.NRGBA `json:"-"`
	// CapturedAt is when the frame was frozen.
	CapturedAt time.Time `json:"captured_at"`
}

// Size returns the frame dimensions.
func (f *Frame) Size() image.Point {
	if f == nil || f.Image == nil {
		return image.Point{}
	}
	return f.Image.Bounds().Size()
}

// EncodePNG losslessly encodes the frame.
//
// Returns:
//   - []byte: The PNG bytes.
//   - error: An error if the frame is empty or encoding fails.
func (f *Frame) EncodePNG() ([]byte, error) {
	if f == nil || f.Image == nil {
		return nil, errors.New("frame has no image")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, f.Image, imaging.PNG); err != nil {
		return nil, errors.Wrap(err, "failed to encode frame")
	}
	return buf.Bytes(), nil
}

// Freeze stretches src to a size×size canonical buffer and wraps it in a new
// Frame.
//
// Arguments:
//   - src: The raw camera image.
//   - size: The canonical edge length in pixels.
//
// Returns:
//   - *Frame: The frozen frame.
//   - error: An error if src is empty or size is not positive.
func Freeze(src image.Image, size int) (*Frame, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, errors.New("cannot freeze an empty image")
	}
	if size <= 0 {
		return nil, errors.Errorf("invalid frame size %d", size)
	}

	return &Frame{
		ID:         uuid.NewString(),
		Image:      Stretch(src, size, size),
		CapturedAt: time.Now(),
	}, nil
}
