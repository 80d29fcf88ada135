package controller

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-inspect/annotate"
	"github.com/nvr-ai/go-inspect/images"
	"github.com/nvr-ai/go-inspect/inference"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// MockCamera provides a controllable camera for testing
type MockCamera struct {
	mu       sync.Mutex
	img      image.Image
	err      error
	startErr error
	starts   int
	stops    int
	live     bool
}

func newMockCamera() *MockCamera {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return &MockCamera{img: img}
}

func (m *MockCamera) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.starts++
	m.live = true
	return nil
}

func (m *MockCamera) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.live = false
	return nil
}

func (m *MockCamera) Capture(context.Context) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.img, nil
}

func (m *MockCamera) counts() (starts, stops int, live bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops, m.live
}

// MockProvider provides controllable detection results for testing
type MockProvider struct {
	mu          sync.Mutex
	detections  []postprocess.Detection
	err         error
	delay       time.Duration
	block       chan struct{}
	started     chan struct{}
	calls       int
	seen        []postprocess.Thresholds
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Detect(
	_ context.Context,
	_ *images.Frame,
	t postprocess.Thresholds,
) ([]postprocess.Detection, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.maxInFlight.Load()
		if n <= peak || m.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls++
	m.seen = append(m.seen, t)
	detections, err, delay, block, started := m.detections, m.err, m.delay, m.block, m.started
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return detections, err
}

func (m *MockProvider) set(detections []postprocess.Detection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections, m.err = detections, err
}

func (m *MockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) lastThresholds() postprocess.Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[len(m.seen)-1]
}

// recordingSurface records what is currently drawn since the last Clear.
type recordingSurface struct {
	*annotate.Canvas

	mu      sync.Mutex
	strokes []image.Rectangle
	texts   []string
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{Canvas: annotate.NewCanvas(images.DefaultFrameSize, images.DefaultFrameSize)}
}

func (r *recordingSurface) Clear() {
	r.Canvas.Clear()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strokes, r.texts = nil, nil
}

func (r *recordingSurface) StrokeRect(rect image.Rectangle, c color.Color, width int) {
	r.Canvas.StrokeRect(rect, c, width)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strokes = append(r.strokes, rect)
}

func (r *recordingSurface) DrawText(text string, x, y int, c color.Color) {
	r.Canvas.DrawText(text, x, y, c)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingSurface) drawn() ([]image.Rectangle, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]image.Rectangle(nil), r.strokes...), append([]string(nil), r.texts...)
}

func seedDetections() []postprocess.Detection {
	return []postprocess.Detection{
		{X: 300, Y: 50, Width: 20, Height: 20, Confidence: 0.9, Class: "seed"},
		{X: 500, Y: 200, Width: 20, Height: 20, Confidence: 0.8, Class: "seed"},
		{X: 100, Y: 55, Width: 20, Height: 20, Confidence: 0.7, Class: "seed"},
		{X: 400, Y: 400, Width: 20, Height: 20, Confidence: 0.45, Class: "seed"},
	}
}

type fixture struct {
	orch     *Orchestrator
	camera   *MockCamera
	provider *MockProvider
	surface  *recordingSurface
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		camera:   newMockCamera(),
		provider: &MockProvider{detections: seedDetections()},
		surface:  newRecordingSurface(),
	}

	orch, err := New(Options{
		Camera:   f.camera,
		Provider: f.provider,
		Surface:  f.surface,
		Config: Config{
			DebounceDelay: debounce,
			Thresholds:    postprocess.Thresholds{Confidence: 0.4, Overlap: 0.3},
		},
	})
	require.NoError(t, err)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { _ = orch.Close() })

	f.orch = orch
	return f
}

func TestOrchestrator_CaptureAnnotates(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	assert.Equal(t, StatePreview, f.orch.State())

	require.NoError(t, f.orch.Capture(context.Background()))

	snap := f.orch.Snapshot()
	assert.Equal(t, StateAnnotated, snap.State)
	assert.NotEmpty(t, snap.FrameID)
	assert.Empty(t, snap.Error)
	require.Equal(t, 4, snap.Count)

	assert.Equal(t, float32(100), snap.Boxes[0].X)
	assert.Equal(t, float32(300), snap.Boxes[1].X)
	assert.Equal(t, float32(500), snap.Boxes[2].X)
	assert.Equal(t, float32(400), snap.Boxes[3].X)
	for i, b := range snap.Boxes {
		assert.Equal(t, i+1, b.ID)
	}

	starts, stops, live := f.camera.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops, "camera must be released on capture")
	assert.False(t, live)

	strokes, texts := f.surface.drawn()
	assert.Len(t, strokes, 4)
	assert.Equal(t, []string{"1", "2", "3", "4"}, texts)
}

func TestOrchestrator_CaptureRequiresPreview(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	require.NoError(t, f.orch.Capture(context.Background()))

	err := f.orch.Capture(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.provider.callCount())
}

func TestOrchestrator_CameraFailure(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.camera.mu.Lock()
	f.camera.err = errors.New("device busy")
	f.camera.mu.Unlock()

	err := f.orch.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCamera)
	assert.Equal(t, StatePreview, f.orch.State())
	assert.Zero(t, f.provider.callCount())

	_, _, live := f.camera.counts()
	assert.True(t, live)
}

func TestOrchestrator_StartCameraFailureRecoverable(t *testing.T) {
	camera := newMockCamera()
	camera.startErr = errors.New("no such device")
	provider := &MockProvider{detections: seedDetections()}

	var pushed []Snapshot
	var pushedMu sync.Mutex

	orch, err := New(Options{
		Camera:   camera,
		Provider: provider,
		Surface:  newRecordingSurface(),
		Config: Config{
			DebounceDelay: 20 * time.Millisecond,
			Thresholds:    postprocess.Thresholds{Confidence: 0.4, Overlap: 0.3},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	cancel := orch.Subscribe(func(s Snapshot) {
		pushedMu.Lock()
		pushed = append(pushed, s)
		pushedMu.Unlock()
	})
	defer cancel()

	err = orch.Start(context.Background())
	require.ErrorIs(t, err, ErrCamera)

	snap := orch.Snapshot()
	assert.Equal(t, StatePreview, snap.State)
	assert.Contains(t, snap.Error, "camera unavailable")
	assert.Contains(t, snap.Error, "no such device")

	pushedMu.Lock()
	require.NotEmpty(t, pushed)
	assert.Contains(t, pushed[len(pushed)-1].Error, "camera unavailable")
	pushedMu.Unlock()

	// A retry that still fails keeps the alert.
	require.ErrorIs(t, orch.Reset(context.Background()), ErrCamera)
	assert.Contains(t, orch.Snapshot().Error, "no such device")

	camera.mu.Lock()
	camera.startErr = nil
	camera.mu.Unlock()

	require.NoError(t, orch.Reset(context.Background()))
	snap = orch.Snapshot()
	assert.Equal(t, StatePreview, snap.State)
	assert.Empty(t, snap.Error)

	starts, _, live := camera.counts()
	assert.Equal(t, 1, starts)
	assert.True(t, live)

	require.NoError(t, orch.Capture(context.Background()))
	require.Eventually(t, func() bool {
		return orch.State() == StateAnnotated
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, orch.Snapshot().Error)
	assert.Equal(t, 1, provider.callCount())
}

func TestOrchestrator_ProviderFailure(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.provider.set(nil, inference.NewProviderError("mock", 500, errors.New("boom")))

	require.NoError(t, f.orch.Capture(context.Background()))

	snap := f.orch.Snapshot()
	assert.Equal(t, StateAnnotated, snap.State)
	assert.NotEmpty(t, snap.FrameID, "frozen frame must be preserved")
	assert.Contains(t, snap.Error, "boom")
	assert.Zero(t, snap.Count)

	strokes, texts := f.surface.drawn()
	assert.Empty(t, strokes)
	assert.Equal(t, []string{annotate.ErrorText}, texts)
}

func TestOrchestrator_ProviderFailureKeepsPreviousAnnotation(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	require.NoError(t, f.orch.Capture(context.Background()))
	before := f.orch.Snapshot()

	f.provider.set(nil, errors.Wrap(inference.ErrMalformedOutput, "no outputs"))
	require.NoError(t, f.orch.SetThresholds(postprocess.Thresholds{Confidence: 0.5, Overlap: 0.3}))

	require.Eventually(t, func() bool {
		s := f.orch.Snapshot()
		return s.State == StateAnnotated && s.Error != ""
	}, 2*time.Second, 5*time.Millisecond)

	after := f.orch.Snapshot()
	assert.Equal(t, before.FrameID, after.FrameID)
	assert.Equal(t, before.Boxes, after.Boxes, "overlay must not be updated")

	strokes, texts := f.surface.drawn()
	assert.Len(t, strokes, 4)
	assert.Equal(t, annotate.ErrorText, texts[len(texts)-1])
}

func TestOrchestrator_ThresholdsDebounced(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	require.NoError(t, f.orch.Capture(context.Background()))
	require.Equal(t, 1, f.provider.callCount())

	for _, c := range []float32{0.5, 0.6, 0.7, 0.75, 0.85} {
		require.NoError(t, f.orch.SetThresholds(postprocess.Thresholds{Confidence: c, Overlap: 0.3}))
	}

	require.Eventually(t, func() bool {
		return f.provider.callCount() == 2 && f.orch.State() == StateAnnotated
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, f.provider.callCount(), "edits must collapse into one run")
	assert.Equal(t, postprocess.Thresholds{Confidence: 0.85, Overlap: 0.3}, f.provider.lastThresholds())

	snap := f.orch.Snapshot()
	require.Equal(t, 1, snap.Count)
	assert.Equal(t, float32(300), snap.Boxes[0].X)
}

func TestOrchestrator_NoRerunInPreview(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)

	require.NoError(t, f.orch.SetThresholds(postprocess.Thresholds{Confidence: 0.2, Overlap: 0.5}))
	time.Sleep(60 * time.Millisecond)

	assert.Zero(t, f.provider.callCount())
	assert.Equal(t, StatePreview, f.orch.State())
	assert.Equal(t, postprocess.Thresholds{Confidence: 0.2, Overlap: 0.5}, f.orch.Snapshot().Thresholds)
}

func TestOrchestrator_InvalidThresholds(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)

	err := f.orch.SetThresholds(postprocess.Thresholds{Confidence: 2, Overlap: 0.3})
	assert.ErrorIs(t, err, postprocess.ErrInvalidThresholds)
	assert.Equal(t, float32(0.4), f.orch.Snapshot().Thresholds.Confidence)
}

func TestOrchestrator_Reset(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	require.NoError(t, f.orch.Capture(context.Background()))

	require.NoError(t, f.orch.SetThresholds(postprocess.Thresholds{Confidence: 0.5, Overlap: 0.3}))
	require.NoError(t, f.orch.Reset(context.Background()))

	snap := f.orch.Snapshot()
	assert.Equal(t, StatePreview, snap.State)
	assert.Empty(t, snap.FrameID)
	assert.Empty(t, snap.Boxes)

	starts, _, live := f.camera.counts()
	assert.Equal(t, 2, starts, "camera must restart")
	assert.True(t, live)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, f.provider.callCount(), "pending re-run must be cancelled")

	strokes, texts := f.surface.drawn()
	assert.Empty(t, strokes)
	assert.Empty(t, texts)

	require.NoError(t, f.orch.Capture(context.Background()))
	assert.Equal(t, StateAnnotated, f.orch.State())
}

func TestOrchestrator_ResetDiscardsInFlightResult(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.provider.block = make(chan struct{})
	f.provider.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- f.orch.Capture(context.Background()) }()

	select {
	case <-f.provider.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provider was not called")
	}
	assert.Equal(t, StateRunning, f.orch.State())

	require.NoError(t, f.orch.Reset(context.Background()))
	close(f.provider.block)
	require.NoError(t, <-done)

	snap := f.orch.Snapshot()
	assert.Equal(t, StatePreview, snap.State)
	assert.Empty(t, snap.Boxes)
	assert.Empty(t, snap.Error)
}

func TestOrchestrator_SingleProviderCallInFlight(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	require.NoError(t, f.orch.Capture(context.Background()))

	f.provider.mu.Lock()
	f.provider.delay = 40 * time.Millisecond
	f.provider.mu.Unlock()

	require.NoError(t, f.orch.SetThresholds(postprocess.Thresholds{Confidence: 0.5, Overlap: 0.3}))
	require.Eventually(t, func() bool { return f.provider.callCount() == 2 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.orch.SetThresholds(postprocess.Thresholds{Confidence: 0.75, Overlap: 0.3}))
	require.Eventually(t, func() bool {
		return f.provider.callCount() == 3 && f.orch.State() == StateAnnotated
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), f.provider.maxInFlight.Load())

	snap := f.orch.Snapshot()
	require.Equal(t, 2, snap.Count, "only the latest run is applied")
	assert.Equal(t, float32(0.75), snap.Thresholds.Confidence)
}

func TestOrchestrator_Subscribe(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)

	var mu sync.Mutex
	var states []State
	unsubscribe := f.orch.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})

	require.NoError(t, f.orch.Capture(context.Background()))
	unsubscribe()
	require.NoError(t, f.orch.Reset(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRunning, StateAnnotated}, states)
}

func TestOrchestrator_WritePNG(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	require.NoError(t, f.orch.Capture(context.Background()))

	var buf bytes.Buffer
	require.NoError(t, f.orch.WritePNG(&buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(images.DefaultFrameSize, images.DefaultFrameSize), img.Bounds().Size())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Provider: &MockProvider{}})
	assert.Error(t, err)

	_, err = New(Options{Camera: newMockCamera()})
	assert.Error(t, err)

	_, err = New(Options{
		Camera:   newMockCamera(),
		Provider: &MockProvider{},
		Config:   Config{Thresholds: postprocess.Thresholds{Confidence: -1}},
	})
	assert.ErrorIs(t, err, postprocess.ErrInvalidThresholds)
}

func TestOrchestrator_SnapshotSummary(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	assert.Nil(t, f.orch.Snapshot().Summary)

	require.NoError(t, f.orch.Capture(context.Background()))

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Summary)
	assert.Equal(t, 4, snap.Summary.Total)
	assert.Equal(t, []int{2, 1, 1}, snap.Summary.RowCounts)
	assert.InDelta(t, 400, snap.Summary.AverageArea, 1e-3)
}

func TestOrchestrator_WritePreview(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, f.orch.WritePreview(context.Background(), &buf))
	assert.Equal(t, []byte{0xff, 0xd8}, buf.Bytes()[:2], "expected a JPEG")

	require.NoError(t, f.orch.Capture(context.Background()))
	err := f.orch.WritePreview(context.Background(), &buf)
	assert.ErrorIs(t, err, ErrInvalidState)
}
