package camera

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.png")
	require.NoError(t, imaging.Save(imaging.New(48, 32, color.White), path))

	s := NewStill(path)
	_, err := s.Capture(context.Background())
	assert.Error(t, err, "capture before start must fail")

	require.NoError(t, s.Start(context.Background()))
	img, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Pt(48, 32), img.Bounds().Size())

	require.NoError(t, s.Stop())
	_, err = s.Capture(context.Background())
	assert.Error(t, err)
}

func TestStill_MissingFile(t *testing.T) {
	s := NewStill(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, s.Start(context.Background()))
}

func TestStill_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.png")
	require.NoError(t, imaging.Save(imaging.New(8, 8, color.Black), path))

	s := NewStill(path)
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDevice_CaptureBeforeStart(t *testing.T) {
	d := NewDevice(Config{Device: "0"}, nil)
	_, err := d.Capture(context.Background())
	assert.Error(t, err)
	assert.NoError(t, d.Stop())
	assert.Equal(t, 0, d.source())

	d = NewDevice(Config{Device: "rtsp://camera/stream"}, nil)
	assert.Equal(t, "rtsp://camera/stream", d.source())
}

func TestConfig_Size(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		width, height int
		wantErr       bool
	}{
		{name: "device default", cfg: Config{}},
		{name: "preset", cfg: Config{Resolution: "720p"}, width: 1280, height: 720},
		{name: "explicit", cfg: Config{Resolution: "1024x768"}, width: 1024, height: 768},
		{name: "width overrides preset", cfg: Config{Resolution: "vga", Width: 800}, width: 800, height: 480},
		{name: "unknown preset", cfg: Config{Resolution: "8k"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := tt.cfg.Size()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}
