package camera

import (
	"context"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Still serves a single image file as if it were a camera. The file is
// reloaded on every Start.
type Still struct {
	path string

	mu  sync.Mutex
	img image.Image
}

// NewStill creates a still source for the image at path.
func NewStill(path string) *Still {
	return &Still{path: path}
}

// Start loads the image, honouring EXIF orientation.
func (s *Still) Start(_ context.Context) error {
	img, err := imaging.Open(s.path, imaging.AutoOrientation(true))
	if err != nil {
		return errors.Wrapf(err, "failed to open image %s", s.path)
	}

	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
	return nil
}

// Stop releases the image.
func (s *Still) Stop() error {
	s.mu.Lock()
	s.img = nil
	s.mu.Unlock()
	return nil
}

// Capture returns the loaded image.
func (s *Still) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return nil, errors.New("still source is not started")
	}
	return s.img, nil
}
