package controller

import (
	"time"

	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	// StatePreview means the camera is live and no frame is held.
	StatePreview State = "preview"
	// StateRunning means a detection run is in flight.
	StateRunning State = "running"
	// StateAnnotated means a frame is frozen and its last result displayed.
	StateAnnotated State = "annotated"
)

// Annotation is the result of one successful pipeline run. It is replaced
// wholesale on every run.
type Annotation struct {
	FrameID    string                 `json:"frame_id"`
	Boxes      []postprocess.Box      `json:"boxes"`
	Summary    postprocess.Summary    `json:"summary"`
	Thresholds postprocess.Thresholds `json:"thresholds"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Snapshot is a point-in-time copy of the orchestrator's observable state.
type Snapshot struct {
	State      State                  `json:"state"`
	Provider   string                 `json:"provider"`
	FrameID    string                 `json:"frame_id,omitempty"`
	Thresholds postprocess.Thresholds `json:"thresholds"`
	Boxes      []postprocess.Box      `json:"boxes"`
	Count      int                    `json:"count"`
	Summary    *postprocess.Summary   `json:"summary,omitempty"`
	Error      string                 `json:"error,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}
