package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
)

// ConfidenceStats summarizes the confidence of kept boxes.
type ConfidenceStats struct {
	Mean   float32 `json:"mean"`
	Median float32 `json:"median"`
	Min    float32 `json:"min"`
	Max    float32 `json:"max"`
	StdDev float32 `json:"std_dev"`
}

// Summary describes the objects counted in one annotation.
type Summary struct {
	// Total is the number of kept boxes.
	Total int `json:"total"`
	// RowCounts is the number of boxes in each row, top to bottom.
	RowCounts []int `json:"row_counts"`
	// AverageArea is the mean box area in pixels.
	AverageArea float32 `json:"average_area"`
	// AreaStdDev is the spread of box areas.
	AreaStdDev float32 `json:"area_std_dev"`
	// Coverage is the summed box area over the frame area.
	Coverage float32 `json:"coverage"`
	// Confidence summarizes the box scores.
	Confidence ConfidenceStats `json:"confidence"`
}

// Summarize computes counts and distribution statistics over rows.
//
// Arguments:
//   - rows: The clustered rows.
//   - frameArea: The canonical frame area in pixels, used for Coverage.
//
// Returns:
//   - Summary: The statistics. Zero valued apart from an empty RowCounts
//     when rows is empty.
func Summarize(rows []Row, frameArea float32) Summary {
	summary := Summary{RowCounts: make([]int, len(rows))}

	var areas, confidences []float32
	for i, row := range rows {
		summary.RowCounts[i] = len(row.Boxes)
		for _, b := range row.Boxes {
			areas = append(areas, b.Rect().Area())
			confidences = append(confidences, b.Confidence)
		}
	}

	summary.Total = len(areas)
	if summary.Total == 0 {
		return summary
	}

	var totalArea float32
	for _, a := range areas {
		totalArea += a
	}
	summary.AverageArea, summary.AreaStdDev = meanStdDev(areas)
	if frameArea > 0 {
		summary.Coverage = totalArea / frameArea
	}

	sort.Slice(confidences, func(i, j int) bool { return confidences[i] < confidences[j] })

	stats := &summary.Confidence
	stats.Mean, stats.StdDev = meanStdDev(confidences)
	stats.Min = confidences[0]
	stats.Max = confidences[len(confidences)-1]

	n := len(confidences)
	if n%2 == 0 {
		stats.Median = (confidences[n/2-1] + confidences[n/2]) / 2
	} else {
		stats.Median = confidences[n/2]
	}

	return summary
}

func meanStdDev(values []float32) (float32, float32) {
	var sum float32
	for _, v := range values {
		sum += v
	}
	mean := sum / float32(len(values))

	var sumSquaredDiff float32
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return mean, math32.Sqrt(sumSquaredDiff / float32(len(values)))
}
