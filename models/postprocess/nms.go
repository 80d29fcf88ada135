// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import "sort"

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap at or above which a detection is suppressed.
	ClassAware   bool    // If true, suppress only within same class.
}

// FilterByConfidence returns the detections scoring at least minConfidence,
// in input order. The input slice is not modified.
func FilterByConfidence(detections []Detection, minConfidence float32) []Detection {
	kept := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= minConfidence {
			kept = append(kept, d)
		}
	}
	return kept
}

// ApplyNMS performs greedy Non-Maximum Suppression.
//
// Detections are ranked by descending confidence, ties keeping their input
// order. The highest ranked remaining detection is kept and every remaining
// detection whose IoU with it is at or above the threshold is discarded.
//
// Arguments:
//   - detections: Candidate detections, in any order. Not modified.
//   - config: NMS configuration.
//
// Returns:
//   - A new slice of kept detections, highest confidence first. Empty (not
//     nil) when no detections are provided.
func ApplyNMS(detections []Detection, config NMSConfig) []Detection {
	n := len(detections)
	filtered := make([]Detection, 0, n)
	if n == 0 {
		return filtered
	}

	ranked := make([]Box, n)
	for i, d := range detections {
		ranked[i] = ToBox(d)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	used := make([]bool, n)
	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := ranked[i]
		filtered = append(filtered, anchor.Detection)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.Class != ranked[j].Class {
				continue
			}
			if IoU(anchor, ranked[j]) >= config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
