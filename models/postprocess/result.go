// Package postprocess - Postprocessing utilities for detection results.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-inspect/images"
)

// Detection represents a single candidate object proposed by a provider.
//
// X and Y are the box centre in canonical frame pixels. Detections are treated
// as immutable once produced.
type Detection struct {
	// X is the horizontal centre of the box.
	X float32 `json:"x"`
	// Y is the vertical centre of the box.
	Y float32 `json:"y"`
	// Width of the box.
	Width float32 `json:"width"`
	// Height of the box.
	Height float32 `json:"height"`
	// Confidence is the detection score in [0, 1].
	Confidence float32 `json:"confidence"`
	// Class is the predicted label.
	Class string `json:"class"`
}

// Box is a Detection with its derived top-left corner and reading-order ID.
type Box struct {
	Detection
	// X0 is the left edge of the box.
	X0 float32 `json:"x0"`
	// Y0 is the top edge of the box.
	Y0 float32 `json:"y0"`
	// ID is the 1-based reading-order number, 0 until assigned.
	ID int `json:"id"`
}

// ToBox derives the corner form of a detection.
func ToBox(d Detection) Box {
	return Box{
		Detection: d,
		X0:        d.X - d.Width/2,
		Y0:        d.Y - d.Height/2,
	}
}

// ToBoxes derives a fresh Box slice from detections.
func ToBoxes(detections []Detection) []Box {
	boxes := make([]Box, len(detections))
	for i, d := range detections {
		boxes[i] = ToBox(d)
	}
	return boxes
}

// Rect returns the box as an images.Rect.
func (b Box) Rect() images.Rect {
	return images.Rect{
		X1: b.X0,
		Y1: b.Y0,
		X2: b.X0 + b.Width,
		Y2: b.Y0 + b.Height,
	}
}

// String formats the box for logs.
func (b Box) String() string {
	return fmt.Sprintf("#%d %s (confidence %f): (%.1f, %.1f) %.1fx%.1f",
		b.ID, b.Class, b.Confidence, b.X0, b.Y0, b.Width, b.Height)
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b Box) float32 {
	return images.CalculateIoU(a.Rect(), b.Rect())
}
