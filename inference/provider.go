// Package inference - Detection providers and the local model runtime.
package inference

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/images"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// ErrMalformedOutput is returned when a provider's output cannot be decoded
// into detections.
var ErrMalformedOutput = errors.New("malformed provider output")

// Provider proposes candidate detections for a frozen frame.
//
// Implementations must treat the frame as read-only. Returned detections are
// in canonical frame pixels with centre coordinates.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string
	// Detect runs the model once against the frame.
	Detect(ctx context.Context, frame *images.Frame, t postprocess.Thresholds) ([]postprocess.Detection, error)
}

// ProviderError describes a failed provider invocation.
type ProviderError struct {
	// Provider is the name of the failing provider.
	Provider string
	// Status is the HTTP status code, when the provider is remote.
	Status int
	// Err is the underlying cause.
	Err error
}

// NewProviderError wraps err for the named provider.
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Status: status, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s provider failed with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s provider failed: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Cause returns the underlying cause for github.com/pkg/errors.
func (e *ProviderError) Cause() error {
	return e.Err
}
