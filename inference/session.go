package inference

import (
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var envMu sync.Mutex

// SessionConfig configures a local model session.
type SessionConfig struct {
	// ModelPath is the ONNX model file.
	ModelPath string
	// LibraryPath is the onnxruntime shared library. Empty selects the
	// platform default.
	LibraryPath string
	// InputSize is the model's square input size.
	InputSize int
	// Execution selects the backend.
	Execution ExecutionConfig
}

// Session represents a model session from the onnxruntime.
type Session struct {
	Session     *ort.AdvancedSession
	Input       *ort.Tensor[float32]
	Output      *ort.Tensor[float32]
	InputSize   int
	OutputShape []int

	mu sync.Mutex
}

// DefaultSharedLibPath returns the onnxruntime library path for the current
// platform.
func DefaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// InitializeRuntime loads the onnxruntime shared library once per process.
func InitializeRuntime(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = DefaultSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// NewSession loads a single-input single-output detection model.
//
// The model's declared output shape is read before the session is created.
// A model with no outputs, or a dynamic output shape, is rejected with
// ErrMalformedOutput.
//
// Arguments:
//   - cfg: The session configuration.
//
// Returns:
//   - *Session: The loaded session.
//   - error: An error if the runtime or model cannot be loaded.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.InputSize <= 0 {
		return nil, errors.Errorf("invalid input size %d", cfg.InputSize)
	}
	if err := InitializeRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading model info from %s", cfg.ModelPath)
	}
	if len(inputs) < 1 {
		return nil, errors.Wrap(ErrMalformedOutput, "model declares no inputs")
	}
	if len(outputs) < 1 {
		return nil, errors.Wrap(ErrMalformedOutput, "model declares no outputs")
	}

	outputShape := make([]int, len(outputs[0].Dimensions))
	for i, d := range outputs[0].Dimensions {
		if d <= 0 {
			return nil, errors.Wrapf(ErrMalformedOutput,
				"output %q has dynamic shape %v", outputs[0].Name, outputs[0].Dimensions)
		}
		outputShape[i] = int(d)
	}

	size := int64(cfg.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := cfg.Execution.SessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &Session{
		Session:     session,
		Input:       inputTensor,
		Output:      outputTensor,
		InputSize:   cfg.InputSize,
		OutputShape: outputShape,
	}, nil
}

// Run prepares img, executes the model and returns a copy of the raw output.
func (s *Session) Run(img image.Image) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Session == nil {
		return nil, errors.New("session is closed")
	}
	if err := PrepareInput(img, s.Input.GetData(), s.InputSize); err != nil {
		return nil, errors.Wrap(err, "failed to prepare input")
	}
	if err := s.Session.Run(); err != nil {
		return nil, errors.Wrap(err, "failed to run inference")
	}

	data := s.Output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		s.Session.Destroy()
		s.Session = nil
	}
}
