package inference

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ExecutionProvider names the onnxruntime backend a session runs on.
type ExecutionProvider string

const (
	// CPUExecutionProvider runs on the default CPU backend.
	CPUExecutionProvider ExecutionProvider = "cpu"
	// CUDAExecutionProvider uses NVIDIA CUDA.
	CUDAExecutionProvider ExecutionProvider = "cuda"
	// CoreMLExecutionProvider uses Apple CoreML.
	CoreMLExecutionProvider ExecutionProvider = "coreml"
	// OpenVINOExecutionProvider uses Intel OpenVINO.
	OpenVINOExecutionProvider ExecutionProvider = "openvino"
)

// ParseExecutionProvider resolves a configured backend name. An empty name
// selects the CPU.
func ParseExecutionProvider(name string) (ExecutionProvider, error) {
	switch p := ExecutionProvider(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return CPUExecutionProvider, nil
	case CPUExecutionProvider, CUDAExecutionProvider, CoreMLExecutionProvider, OpenVINOExecutionProvider:
		return p, nil
	default:
		return "", errors.Errorf("unsupported execution provider %q", name)
	}
}

// ExecutionConfig selects and tunes the execution provider.
type ExecutionConfig struct {
	Provider ExecutionProvider `json:"provider" yaml:"provider"`
	// DeviceID selects the GPU for CUDA.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// Options are passed through to the backend verbatim.
	Options map[string]string `json:"options" yaml:"options"`
	// IntraOpThreads parallelizes execution within graph nodes. 0 uses the
	// runtime default.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads parallelizes execution across graph nodes. 0 uses the
	// runtime default.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// Parallel runs independent graph branches concurrently.
	Parallel bool `json:"parallel" yaml:"parallel"`
}

// SessionOptions builds onnxruntime session options for the configuration.
// The caller owns the returned options and must Destroy them.
func (c ExecutionConfig) SessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := c.apply(options); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func (c ExecutionConfig) apply(options *ort.SessionOptions) error {
	if c.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(c.IntraOpThreads); err != nil {
			return errors.Wrap(err, "error setting intra-op threads")
		}
	}
	if c.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(c.InterOpThreads); err != nil {
			return errors.Wrap(err, "error setting inter-op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}
	if c.Parallel {
		if err := options.SetExecutionMode(ort.ExecutionModeParallel); err != nil {
			return errors.Wrap(err, "error setting execution mode")
		}
	}

	switch c.Provider {
	case "", CPUExecutionProvider:
		return nil

	case CUDAExecutionProvider:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()

		settings := map[string]string{"device_id": strconv.Itoa(c.DeviceID)}
		for k, v := range c.Options {
			settings[k] = v
		}
		if err := cuda.Update(settings); err != nil {
			return errors.Wrap(err, "error updating CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
		return nil

	case CoreMLExecutionProvider:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
		return nil

	case OpenVINOExecutionProvider:
		settings := map[string]string{
			"device_type": "CPU",
			"precision":   "FP32",
		}
		for k, v := range c.Options {
			settings[k] = v
		}
		if err := options.AppendExecutionProviderOpenVINO(settings); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
		return nil

	default:
		return errors.Errorf("unsupported execution provider %q", c.Provider)
	}
}
