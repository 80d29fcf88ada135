package providers

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/images"
	"github.com/nvr-ai/go-inspect/inference"
	"github.com/nvr-ai/go-inspect/logger"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// ONNXProviderName identifies the local runtime provider.
const ONNXProviderName = "onnx"

// Runner executes a model on an image and returns its raw output.
type Runner interface {
	Run(img image.Image) ([]float32, error)
}

// ONNXConfig configures the local model provider.
type ONNXConfig struct {
	ModelPath   string                    `yaml:"model_path"`
	LibraryPath string                    `yaml:"library_path"`
	InputSize   int                       `yaml:"input_size"`
	Classes     []string                  `yaml:"classes"`
	Execution   inference.ExecutionConfig `yaml:"execution"`
}

// ONNX runs a YOLOv8-style detection model on the local onnxruntime.
type ONNX struct {
	runner      Runner
	outputShape []int
	inputSize   int
	classes     []string
	log         *logger.Logger
	close       func()
}

// NewONNX loads the model described by cfg.
func NewONNX(cfg ONNXConfig, log *logger.Logger) (*ONNX, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = images.DefaultFrameSize
	}

	session, err := inference.NewSession(inference.SessionConfig{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.LibraryPath,
		InputSize:   cfg.InputSize,
		Execution:   cfg.Execution,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load onnx model")
	}

	p := NewONNXWithRunner(session, session.OutputShape, cfg.InputSize, cfg.Classes, log)
	p.close = session.Close
	return p, nil
}

// NewONNXWithRunner builds the provider around an existing runner.
func NewONNXWithRunner(runner Runner, outputShape []int, inputSize int, classes []string, log *logger.Logger) *ONNX {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ONNX{
		runner:      runner,
		outputShape: outputShape,
		inputSize:   inputSize,
		classes:     classes,
		log:         log.Named(ONNXProviderName),
	}
}

// Name implements inference.Provider.
func (o *ONNX) Name() string {
	return ONNXProviderName
}

// Detect runs the model and maps its boxes into frame pixels.
func (o *ONNX) Detect(
	ctx context.Context,
	frame *images.Frame,
	t postprocess.Thresholds,
) ([]postprocess.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, inference.NewProviderError(o.Name(), 0, err)
	}
	if frame == nil || frame.Image == nil {
		return nil, inference.NewProviderError(o.Name(), 0, errors.New("no frame"))
	}

	start := time.Now()
	raw, err := o.runner.Run(frame.Image)
	if err != nil {
		return nil, inference.NewProviderError(o.Name(), 0, err)
	}

	detections, err := inference.DecodeYOLO(raw, o.outputShape, o.classes, t.Confidence)
	if err != nil {
		o.log.Error("malformed model output", "frame", frame.ID, "error", err)
		return nil, inference.NewProviderError(o.Name(), 0, err)
	}

	size := frame.Size()
	sx := float32(size.X) / float32(o.inputSize)
	sy := float32(size.Y) / float32(o.inputSize)
	if sx != 1 || sy != 1 {
		for i := range detections {
			detections[i].X *= sx
			detections[i].Y *= sy
			detections[i].Width *= sx
			detections[i].Height *= sy
		}
	}

	o.log.Debug("onnx inference",
		"frame", frame.ID,
		"candidates", len(detections),
		"duration", time.Since(start),
	)

	return detections, nil
}

// Close releases the model session.
func (o *ONNX) Close() error {
	if o.close != nil {
		o.close()
		o.close = nil
	}
	return nil
}
