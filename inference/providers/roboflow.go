// Package providers - Detection provider implementations.
package providers

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/images"
	"github.com/nvr-ai/go-inspect/inference"
	"github.com/nvr-ai/go-inspect/logger"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// RoboflowProviderName identifies the hosted detection API.
const RoboflowProviderName = "roboflow"

// RoboflowConfig configures the hosted detection API client.
type RoboflowConfig struct {
	// Endpoint is the model URL, e.g. https://detect.roboflow.com/<model>/<version>.
	Endpoint string `yaml:"endpoint"`
	// APIKey is sent as the api_key query parameter.
	APIKey string `yaml:"api_key"`
	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// roboflowPrediction is one entry of the predictions array.
type roboflowPrediction struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
	Confidence float32 `json:"confidence"`
	Class      string  `json:"class"`
}

type roboflowResponse struct {
	Predictions *[]roboflowPrediction `json:"predictions"`
}

// Roboflow calls a hosted object detection model over HTTP.
type Roboflow struct {
	client *resty.Client
	cfg    RoboflowConfig
	log    *logger.Logger
}

// NewRoboflow creates a client for the hosted model.
func NewRoboflow(cfg RoboflowConfig, log *logger.Logger) (*Roboflow, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("roboflow endpoint is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &Roboflow{
		client: client,
		cfg:    cfg,
		log:    log.Named(RoboflowProviderName),
	}, nil
}

// Name implements inference.Provider.
func (r *Roboflow) Name() string {
	return RoboflowProviderName
}

// Detect uploads the frame as a PNG and decodes the predictions.
//
// The thresholds are forwarded to the API unchanged; the local pipeline
// applies them again afterwards.
func (r *Roboflow) Detect(
	ctx context.Context,
	frame *images.Frame,
	t postprocess.Thresholds,
) ([]postprocess.Detection, error) {
	data, err := frame.EncodePNG()
	if err != nil {
		return nil, inference.NewProviderError(r.Name(), 0, err)
	}

	var body roboflowResponse
	start := time.Now()
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_key":    r.cfg.APIKey,
			"confidence": strconv.FormatFloat(float64(t.Confidence), 'f', -1, 32),
			"overlap":    strconv.FormatFloat(float64(t.Overlap), 'f', -1, 32),
		}).
		SetFileReader("file", frame.ID+".png", bytes.NewReader(data)).
		SetResult(&body).
		Post(r.cfg.Endpoint)
	if err != nil {
		return nil, inference.NewProviderError(r.Name(), 0, errors.Wrap(err, "request failed"))
	}

	r.log.Debug("roboflow response",
		"frame", frame.ID,
		"status", resp.StatusCode(),
		"duration", time.Since(start),
	)

	if resp.IsError() {
		return nil, inference.NewProviderError(r.Name(), resp.StatusCode(),
			errors.Errorf("unexpected response %q", resp.Status()))
	}
	if body.Predictions == nil {
		return nil, inference.NewProviderError(r.Name(), resp.StatusCode(),
			errors.Wrap(inference.ErrMalformedOutput, "response has no predictions"))
	}

	detections := make([]postprocess.Detection, len(*body.Predictions))
	for i, p := range *body.Predictions {
		detections[i] = postprocess.Detection{
			X:          p.X,
			Y:          p.Y,
			Width:      p.Width,
			Height:     p.Height,
			Confidence: p.Confidence,
			Class:      p.Class,
		}
	}

	return detections, nil
}
