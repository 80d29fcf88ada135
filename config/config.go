// Package config loads the inspection station configuration from a YAML file,
// an optional .env file and INSPECT_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-inspect/camera"
	"github.com/nvr-ai/go-inspect/inference"
	"github.com/nvr-ai/go-inspect/inference/providers"
	"github.com/nvr-ai/go-inspect/logger"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// Provider kinds.
const (
	ProviderRoboflow = providers.RoboflowProviderName
	ProviderONNX     = providers.ONNXProviderName
)

// Defaults applied to zero-valued fields.
const (
	DefaultAddr         = ":8080"
	DefaultDevice       = "0"
	DefaultFrameSize    = 640
	DefaultConfidence   = 0.4
	DefaultOverlap      = 0.3
	DefaultRowProximity = postprocess.DefaultRowProximity
	DefaultDebounce     = 200 * time.Millisecond
	DefaultStroke       = "#ff0000"
	DefaultLineWidth    = 2
	DefaultLabelHeight  = 16
)

// Config is the root of the configuration file.
type Config struct {
	Log      logger.LogConfig `yaml:"log"`
	Web      WebConfig        `yaml:"web"`
	Camera   camera.Config    `yaml:"camera"`
	Pipeline PipelineConfig   `yaml:"pipeline"`
	Provider ProviderConfig   `yaml:"provider"`
	Render   RenderConfig     `yaml:"render"`
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// PipelineConfig holds the post-processing parameters.
type PipelineConfig struct {
	FrameSize    int           `yaml:"frame_size"`
	Confidence   *float32      `yaml:"confidence"`
	Overlap      *float32      `yaml:"overlap"`
	RowProximity float32       `yaml:"row_proximity"`
	Debounce     time.Duration `yaml:"debounce"`
	ClassAware   bool          `yaml:"class_aware"`
}

// Thresholds returns the initial user thresholds.
func (p PipelineConfig) Thresholds() postprocess.Thresholds {
	t := postprocess.Thresholds{Confidence: DefaultConfidence, Overlap: DefaultOverlap}
	if p.Confidence != nil {
		t.Confidence = *p.Confidence
	}
	if p.Overlap != nil {
		t.Overlap = *p.Overlap
	}
	return t
}

// ProviderConfig selects and configures the detection provider.
type ProviderConfig struct {
	Kind     string                   `yaml:"kind"`
	Roboflow providers.RoboflowConfig `yaml:"roboflow"`
	ONNX     providers.ONNXConfig     `yaml:"onnx"`
}

// RenderConfig is the overlay style.
type RenderConfig struct {
	Stroke      string `yaml:"stroke"`
	LineWidth   int    `yaml:"line_width"`
	LabelHeight int    `yaml:"label_height"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read configuration file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse configuration")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "failed to load %s", f)
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Web.Addr == "" {
		c.Web.Addr = DefaultAddr
	}

	if c.Camera.Device == "" {
		c.Camera.Device = DefaultDevice
	}

	if c.Pipeline.FrameSize == 0 {
		c.Pipeline.FrameSize = DefaultFrameSize
	}
	if c.Pipeline.RowProximity == 0 {
		c.Pipeline.RowProximity = DefaultRowProximity
	}
	if c.Pipeline.Debounce == 0 {
		c.Pipeline.Debounce = DefaultDebounce
	}
	t := c.Pipeline.Thresholds()
	c.Pipeline.Confidence = &t.Confidence
	c.Pipeline.Overlap = &t.Overlap

	c.Provider.Kind = strings.ToLower(c.Provider.Kind)
	if c.Provider.Kind == "" {
		c.Provider.Kind = ProviderRoboflow
	}
	if c.Provider.ONNX.InputSize == 0 {
		c.Provider.ONNX.InputSize = DefaultFrameSize
	}
	if c.Provider.ONNX.Execution.Provider == "" {
		c.Provider.ONNX.Execution.Provider = inference.CPUExecutionProvider
	}

	if c.Render.Stroke == "" {
		c.Render.Stroke = DefaultStroke
	}
	if c.Render.LineWidth == 0 {
		c.Render.LineWidth = DefaultLineWidth
	}
	if c.Render.LabelHeight == 0 {
		c.Render.LabelHeight = DefaultLabelHeight
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Pipeline.FrameSize < 0 {
		return errors.Errorf("pipeline.frame_size must be positive, got %d", c.Pipeline.FrameSize)
	}
	if c.Pipeline.RowProximity < 0 {
		return errors.Errorf("pipeline.row_proximity must be positive, got %v", c.Pipeline.RowProximity)
	}
	if c.Pipeline.Debounce < 0 {
		return errors.Errorf("pipeline.debounce must be positive, got %s", c.Pipeline.Debounce)
	}
	if _, _, err := c.Camera.Size(); err != nil {
		return errors.Wrap(err, "camera")
	}
	if err := c.Pipeline.Thresholds().Validate(); err != nil {
		return errors.Wrap(err, "pipeline")
	}

	switch c.Provider.Kind {
	case ProviderRoboflow:
		if c.Provider.Roboflow.Endpoint == "" {
			return errors.New("provider.roboflow.endpoint is required")
		}
		if c.Provider.Roboflow.Timeout < 0 {
			return errors.Errorf("provider.roboflow.timeout must be positive, got %s", c.Provider.Roboflow.Timeout)
		}
	case ProviderONNX:
		if c.Provider.ONNX.ModelPath == "" {
			return errors.New("provider.onnx.model_path is required")
		}
		if _, err := inference.ParseExecutionProvider(string(c.Provider.ONNX.Execution.Provider)); err != nil {
			return errors.Wrap(err, "provider.onnx.execution")
		}
	default:
		return errors.Errorf("unknown provider kind %q", c.Provider.Kind)
	}

	if c.Render.LineWidth < 0 || c.Render.LabelHeight < 0 {
		return errors.New("render sizes must be positive")
	}
	return nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	setString(&c.Log.Level, "INSPECT_LOG_LEVEL")
	setString(&c.Log.Format, "INSPECT_LOG_FORMAT")
	setString(&c.Web.Addr, "INSPECT_WEB_ADDR")
	setString(&c.Camera.Device, "INSPECT_CAMERA_DEVICE")
	setString(&c.Camera.Image, "INSPECT_CAMERA_IMAGE")
	setString(&c.Camera.Resolution, "INSPECT_CAMERA_RESOLUTION")
	setString(&c.Provider.Kind, "INSPECT_PROVIDER")
	setString(&c.Provider.Roboflow.Endpoint, "INSPECT_ROBOFLOW_ENDPOINT")
	setString(&c.Provider.Roboflow.APIKey, "ROBOFLOW_API_KEY")
	setString(&c.Provider.ONNX.ModelPath, "INSPECT_ONNX_MODEL")
	setString(&c.Provider.ONNX.LibraryPath, "INSPECT_ONNX_LIBRARY")

	if v, ok := os.LookupEnv("INSPECT_ONNX_EXECUTION"); ok && v != "" {
		c.Provider.ONNX.Execution.Provider = inference.ExecutionProvider(strings.ToLower(v))
	}
	if err := setFloat(&c.Pipeline.Confidence, "INSPECT_CONFIDENCE"); err != nil {
		return err
	}
	if err := setFloat(&c.Pipeline.Overlap, "INSPECT_OVERLAP"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("INSPECT_DEBOUNCE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "INSPECT_DEBOUNCE")
		}
		c.Pipeline.Debounce = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setFloat(dst **float32, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return errors.Wrap(err, key)
	}
	f32 := float32(f)
	*dst = &f32
	return nil
}
