package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrInvalidThresholds is returned when a threshold lies outside [0, 1].
var ErrInvalidThresholds = errors.New("thresholds must be within [0, 1]")

// Thresholds are the user-controlled pipeline parameters.
type Thresholds struct {
	// Confidence is the minimum detection score kept.
	Confidence float32 `json:"confidence" yaml:"confidence"`
	// Overlap is the IoU at or above which a lower-scored detection is
	// suppressed.
	Overlap float32 `json:"overlap" yaml:"overlap"`
}

// Validate checks that both thresholds are finite and within [0, 1].
func (t Thresholds) Validate() error {
	if !inUnitRange(t.Confidence) {
		return errors.Wrapf(ErrInvalidThresholds, "confidence %v", t.Confidence)
	}
	if !inUnitRange(t.Overlap) {
		return errors.Wrapf(ErrInvalidThresholds, "overlap %v", t.Overlap)
	}
	return nil
}

func inUnitRange(v float32) bool {
	return !math32.IsNaN(v) && v >= 0 && v <= 1
}
