// Package controller - Sequences capture, detection and annotation for a single
// inspection display.
package controller

import (
	"context"
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/annotate"
	"github.com/nvr-ai/go-inspect/images"
	"github.com/nvr-ai/go-inspect/inference"
	"github.com/nvr-ai/go-inspect/logger"
	"github.com/nvr-ai/go-inspect/metrics"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

var (
	// ErrCamera is returned when the camera cannot be started or read.
	ErrCamera = errors.New("camera unavailable")
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("invalid state for operation")
)

// DefaultDebounceDelay is how long threshold edits are coalesced before a
// re-run.
const DefaultDebounceDelay = 200 * time.Millisecond

// Capturer is the exclusively owned camera device.
type Capturer interface {
	// Start acquires the device and begins live acquisition.
	Start(ctx context.Context) error
	// Stop releases the device.
	Stop() error
	// Capture grabs the current raw frame.
	Capture(ctx context.Context) (image.Image, error)
}

// Config holds the pipeline parameters owned by the orchestrator.
type Config struct {
	FrameSize     int
	RowProximity  float32
	DebounceDelay time.Duration
	ClassAware    bool
	Thresholds    postprocess.Thresholds
}

// Options are the collaborators of an Orchestrator.
type Options struct {
	Camera   Capturer
	Provider inference.Provider
	Renderer *annotate.Renderer
	Surface  annotate.Surface
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	Config   Config
}

// Orchestrator owns the capture state machine.
//
// All state is guarded by mu. Provider calls are serialized by runMu and are
// made without holding mu. Every run carries the generation it was started
// with; a result whose generation is no longer current is discarded.
type Orchestrator struct {
	camera   Capturer
	provider inference.Provider
	renderer *annotate.Renderer
	surface  annotate.Surface
	log      *logger.Logger
	metrics  *metrics.Metrics
	cfg      Config

	runMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	state      State
	thresholds postprocess.Thresholds
	frame      *images.Frame
	annotation *Annotation
	lastErr    error
	generation uint64
	cameraLive bool
	capturing  bool
	updatedAt  time.Time

	debouncer Debouncer

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int
}

// New validates the collaborators and returns an orchestrator in Preview.
// Start must be called to acquire the camera.
func New(opts Options) (*Orchestrator, error) {
	if opts.Camera == nil {
		return nil, errors.New("camera is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if err := opts.Config.Thresholds.Validate(); err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = images.DefaultFrameSize
	}
	if cfg.RowProximity <= 0 {
		cfg.RowProximity = postprocess.DefaultRowProximity
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}

	renderer := opts.Renderer
	if renderer == nil {
		renderer = annotate.NewRenderer(annotate.DefaultStyle())
	}
	surface := opts.Surface
	if surface == nil {
		surface = annotate.NewCanvas(cfg.FrameSize, cfg.FrameSize)
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Orchestrator{
		camera:     opts.Camera,
		provider:   opts.Provider,
		renderer:   renderer,
		surface:    surface,
		log:        log.Named("orchestrator"),
		metrics:    opts.Metrics,
		cfg:        cfg,
		ctx:        context.Background(),
		state:      StatePreview,
		thresholds: cfg.Thresholds,
		updatedAt:  time.Now(),
		listeners:  make(map[int]func(Snapshot)),
	}, nil
}

// Start acquires the camera and enters Preview. ctx also becomes the context
// of every provider call.
//
// A camera that cannot be acquired is not fatal: the error is returned and
// also kept in the snapshot, and Reset retries the acquisition.
func (o *Orchestrator) Start(ctx context.Context) error {
	startErr := o.camera.Start(ctx)

	o.mu.Lock()
	o.ctx = ctx
	o.setState(StatePreview)
	if startErr != nil {
		o.lastErr = errors.Wrap(ErrCamera, startErr.Error())
	} else {
		o.cameraLive = true
		o.lastErr = nil
	}
	err := o.lastErr
	o.mu.Unlock()

	o.notify()
	return err
}

// Close cancels any pending re-run and releases the camera.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.debouncer.Cancel()
	o.generation++
	if !o.cameraLive {
		return nil
	}
	o.cameraLive = false
	return o.camera.Stop()
}

// Capture freezes the current camera frame and runs detection on it.
//
// It is only valid in Preview. A camera failure leaves the orchestrator in
// Preview and returns an error wrapping ErrCamera. Provider failures do not
// return an error: they are drawn as an error indicator and reported in the
// snapshot.
func (o *Orchestrator) Capture(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StatePreview || o.capturing {
		state := o.state
		o.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "cannot capture while %s", state)
	}
	o.capturing = true
	o.mu.Unlock()

	frame, err := o.grab(ctx)
	o.metrics.Capture(err)

	o.mu.Lock()
	o.capturing = false
	if err != nil {
		o.mu.Unlock()
		o.log.Warn("capture failed", "error", err)
		return err
	}

	o.debouncer.Cancel()
	o.generation++
	gen := o.generation
	o.frame = frame
	o.annotation = nil
	o.lastErr = nil
	o.setState(StateRunning)
	o.mu.Unlock()

	o.log.Info("frame captured", "frame", frame.ID)
	o.notify()

	o.run(gen)
	return nil
}

// grab reads one raw frame, releases the camera and freezes the frame. The
// camera is left running when the read fails.
func (o *Orchestrator) grab(ctx context.Context) (*images.Frame, error) {
	raw, err := o.camera.Capture(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrCamera, err.Error())
	}

	if err := o.camera.Stop(); err != nil {
		o.log.Warn("failed to release camera", "error", err)
	}
	o.mu.Lock()
	o.cameraLive = false
	o.mu.Unlock()

	frame, err := images.Freeze(raw, o.cfg.FrameSize)
	if err != nil {
		if startErr := o.camera.Start(ctx); startErr == nil {
			o.mu.Lock()
			o.cameraLive = true
			o.mu.Unlock()
		}
		return nil, errors.Wrap(ErrCamera, err.Error())
	}

	return frame, nil
}

// SetThresholds stores new thresholds and, when a frame is held, schedules a
// debounced re-run against it. Edits arriving within the debounce delay
// collapse into one run that uses the latest values.
func (o *Orchestrator) SetThresholds(t postprocess.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	o.thresholds = t
	o.updatedAt = time.Now()
	if o.state != StatePreview && o.frame != nil {
		o.debouncer.Schedule(o.cfg.DebounceDelay, o.rerun)
	}
	o.mu.Unlock()

	o.notify()
	return nil
}

// rerun is the debounced threshold re-run.
func (o *Orchestrator) rerun() {
	o.mu.Lock()
	if o.state == StatePreview || o.frame == nil {
		o.mu.Unlock()
		return
	}
	o.generation++
	gen := o.generation
	o.setState(StateRunning)
	o.mu.Unlock()

	o.metrics.Rerun()
	o.notify()

	o.run(gen)
}

// Reset drops the frozen frame and returns to Preview, restarting the
// camera. Any pending re-run is cancelled and an in-flight result will be
// discarded.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	o.debouncer.Cancel()
	o.generation++
	o.frame = nil
	o.annotation = nil
	o.lastErr = nil
	o.surface.Clear()
	o.setState(StatePreview)
	live := o.cameraLive
	o.mu.Unlock()

	o.notify()

	if live {
		return nil
	}
	if err := o.camera.Start(ctx); err != nil {
		o.log.Warn("failed to restart camera", "error", err)
		wrapped := errors.Wrap(ErrCamera, err.Error())
		o.mu.Lock()
		o.lastErr = wrapped
		o.mu.Unlock()
		o.notify()
		return wrapped
	}

	o.mu.Lock()
	o.cameraLive = true
	o.mu.Unlock()
	return nil
}

// run performs one provider call and pipeline pass for generation gen.
func (o *Orchestrator) run(gen uint64) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		o.metrics.RunFinished(metrics.OutcomeDiscarded, 0)
		return
	}
	frame := o.frame
	t := o.thresholds
	ctx := o.ctx
	o.redraw()
	o.renderer.DrawLoading(o.surface)
	o.mu.Unlock()

	start := time.Now()
	detections, err := o.provider.Detect(ctx, frame, t)
	elapsed := time.Since(start)
	o.metrics.ObserveProvider(o.provider.Name(), elapsed)

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		o.log.Debug("discarding stale result", "frame", frame.ID)
		o.metrics.RunFinished(metrics.OutcomeDiscarded, 0)
		return
	}

	if err != nil {
		o.lastErr = err
		o.redraw()
		o.renderer.DrawError(o.surface, annotate.ErrorText)
		o.setState(StateAnnotated)
		o.mu.Unlock()

		if errors.Is(err, inference.ErrMalformedOutput) {
			o.log.Error("malformed provider output", "frame", frame.ID, "error", err)
		} else {
			o.log.Warn("provider failed", "frame", frame.ID, "error", err)
		}
		o.metrics.RunFinished(metrics.OutcomeError, 0)
		o.notify()
		return
	}

	rows := postprocess.AnnotateRows(detections, postprocess.Options{
		Thresholds:   t,
		RowProximity: o.cfg.RowProximity,
		ClassAware:   o.cfg.ClassAware,
	})
	boxes := postprocess.Number(rows)
	size := frame.Size()
	o.annotation = &Annotation{
		FrameID:    frame.ID,
		Boxes:      boxes,
		Summary:    postprocess.Summarize(rows, float32(size.X*size.Y)),
		Thresholds: t,
		CreatedAt:  time.Now(),
	}
	o.lastErr = nil
	o.redraw()
	o.setState(StateAnnotated)
	o.mu.Unlock()

	o.log.Info("run finished",
		"frame", frame.ID,
		"detections", len(detections),
		"kept", len(boxes),
		"duration", elapsed,
	)
	o.metrics.RunFinished(metrics.OutcomeOK, len(boxes))
	o.notify()
}

// redraw paints the frozen frame and the last annotation. Callers hold mu.
func (o *Orchestrator) redraw() {
	o.surface.Clear()
	if o.frame == nil {
		return
	}
	o.surface.DrawImage(o.frame.Image)
	if o.annotation != nil && o.annotation.FrameID == o.frame.ID {
		o.renderer.Draw(o.surface, o.annotation.Boxes)
	}
}

// setState records a transition. Callers hold mu.
func (o *Orchestrator) setState(s State) {
	if o.state != s {
		o.log.Debug("state transition", "from", o.state, "to", s)
	}
	o.state = s
	o.updatedAt = time.Now()
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns a copy of the observable state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		State:      o.state,
		Provider:   o.provider.Name(),
		Thresholds: o.thresholds,
		Boxes:      []postprocess.Box{},
		UpdatedAt:  o.updatedAt,
	}
	if o.frame != nil {
		s.FrameID = o.frame.ID
	}
	if o.annotation != nil {
		s.Boxes = append(s.Boxes, o.annotation.Boxes...)
		s.Count = len(s.Boxes)
		summary := o.annotation.Summary
		summary.RowCounts = append([]int(nil), summary.RowCounts...)
		s.Summary = &summary
	}
	if o.lastErr != nil {
		s.Error = o.lastErr.Error()
	}
	return s
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned function removes the listener.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()

	id := o.nextID
	o.nextID++
	o.listeners[id] = fn

	return func() {
		o.listenersMu.Lock()
		defer o.listenersMu.Unlock()
		delete(o.listeners, id)
	}
}

func (o *Orchestrator) notify() {
	snap := o.Snapshot()

	o.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// WritePNG encodes the display surface.
func (o *Orchestrator) WritePNG(w io.Writer) error {
	o.mu.Lock()
	src := o.surface.Image()
	var img *image.NRGBA
	if src != nil {
		img = imaging.Clone(src)
	}
	o.mu.Unlock()

	if img == nil {
		return errors.New("surface has no image")
	}
	return errors.Wrap(imaging.Encode(w, img, imaging.PNG), "failed to encode surface")
}

// WritePreview encodes the current live camera frame as JPEG. It is only
// valid in Preview.
func (o *Orchestrator) WritePreview(ctx context.Context, w io.Writer) error {
	o.mu.Lock()
	if o.state != StatePreview || !o.cameraLive || o.capturing {
		o.mu.Unlock()
		return errors.Wrap(ErrInvalidState, "no live preview")
	}
	o.mu.Unlock()

	raw, err := o.camera.Capture(ctx)
	if err != nil {
		return errors.Wrap(ErrCamera, err.Error())
	}
	return errors.Wrap(imaging.Encode(w, raw, imaging.JPEG), "failed to encode preview")
}
