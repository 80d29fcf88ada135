// Package camera provides capture devices for the inspection display.
package camera

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-inspect/images"
	"github.com/nvr-ai/go-inspect/logger"
)

// maxEmptyReads bounds how many empty frames are skipped while the device
// warms up.
const maxEmptyReads = 10

// Config selects and sizes the capture device.
type Config struct {
	// Device is a device index ("0") or a video file / stream URL.
	Device string `yaml:"device"`
	// Resolution is a preset name ("720p") or WIDTHxHEIGHT. Width and Height
	// take precedence when set. Zero keeps the device default.
	Resolution string `yaml:"resolution"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	// Image, when set, replaces the device with a still image file.
	Image string `yaml:"image"`
}

// Device is a gocv video capture opened on Start and closed on Stop.
type Device struct {
	cfg Config
	log *logger.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
}

// NewDevice creates an unopened device.
func NewDevice(cfg Config, log *logger.Logger) *Device {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Device{cfg: cfg, log: log.Named("camera")}
}

// source returns the device index when Device is numeric, otherwise the raw
// string for files and streams.
func (d *Device) source() interface{} {
	if id, err := strconv.Atoi(d.cfg.Device); err == nil {
		return id
	}
	return d.cfg.Device
}

// Size resolves the requested capture size. Zero values keep the device
// default.
func (c Config) Size() (width, height int, err error) {
	if c.Resolution != "" {
		r, err := images.ParseResolution(c.Resolution)
		if err != nil {
			return 0, 0, err
		}
		width, height = r.Width, r.Height
	}
	if c.Width > 0 {
		width = c.Width
	}
	if c.Height > 0 {
		height = c.Height
	}
	return width, height, nil
}

// Start opens the device. Starting an open device is a no-op.
func (d *Device) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture != nil {
		return nil
	}

	width, height, err := d.cfg.Size()
	if err != nil {
		return err
	}

	capture, err := gocv.OpenVideoCapture(d.source())
	if err != nil {
		return errors.Wrapf(err, "failed to open capture device %q", d.cfg.Device)
	}
	if !capture.IsOpened() {
		capture.Close()
		return errors.Errorf("capture device %q is not available", d.cfg.Device)
	}

	if width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	d.capture = capture
	d.log.Debug("capture device opened", "device", d.cfg.Device, "width", width, "height", height)
	return nil
}

// Stop closes the device. Stopping a closed device is a no-op.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil
	}
	err := d.capture.Close()
	d.capture = nil
	d.log.Debug("capture device closed", "device", d.cfg.Device)
	return errors.Wrap(err, "failed to close capture device")
}

// Capture reads the next non-empty frame.
func (d *Device) Capture(ctx context.Context) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil, errors.New("capture device is not started")
	}

	img := gocv.NewMat()
	defer img.Close()

	for i := 0; i < maxEmptyReads; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ok := d.capture.Read(&img); !ok {
			return nil, errors.Errorf("cannot read device %v", d.cfg.Device)
		}
		if img.Empty() {
			continue
		}

		frame, err := img.ToImage()
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert frame")
		}
		return frame, nil
	}

	return nil, errors.Errorf("device %v returned only empty frames", d.cfg.Device)
}
