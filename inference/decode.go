package inference

import (
	"strconv"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// DecodeYOLO decodes a YOLOv8-style output tensor of shape [1, 4+C, A] into
// detections.
//
// Each of the A anchors carries a centre box (cx, cy, w, h) followed by C
// class scores. The best scoring class is kept and anchors below
// minConfidence are dropped. Boxes are returned in model input pixels.
//
// Arguments:
//   - raw: The flat output data.
//   - shape: The output tensor shape.
//   - classes: Class labels by index. Missing labels are numbered.
//   - minConfidence: The minimum score kept.
//
// Returns:
//   - []postprocess.Detection: The decoded candidates, in anchor order.
//   - error: ErrMalformedOutput when the shape and data disagree.
func DecodeYOLO(raw []float32, shape []int, classes []string, minConfidence float32) ([]postprocess.Detection, error) {
	if len(shape) != 3 || shape[0] != 1 || shape[1] <= 4 || shape[2] <= 0 {
		return nil, errors.Wrapf(ErrMalformedOutput, "unexpected output shape %v", shape)
	}
	features, anchors := shape[1], shape[2]
	if len(raw) != features*anchors {
		return nil, errors.Wrapf(ErrMalformedOutput,
			"output holds %d values, shape %v needs %d", len(raw), shape, features*anchors)
	}

	out := tensor.New(
		tensor.WithShape(1, features, anchors),
		tensor.WithBacking(raw),
	)

	at := func(f, a int) (float32, error) {
		v, err := out.At(0, f, a)
		if err != nil {
			return 0, errors.Wrap(ErrMalformedOutput, err.Error())
		}
		return v.(float32), nil
	}

	detections := make([]postprocess.Detection, 0)
	for a := 0; a < anchors; a++ {
		bestClass, bestScore := -1, float32(0)
		for f := 4; f < features; f++ {
			score, err := at(f, a)
			if err != nil {
				return nil, err
			}
			if bestClass < 0 || score > bestScore {
				bestClass, bestScore = f-4, score
			}
		}
		if bestScore < minConfidence {
			continue
		}

		var box [4]float32
		for f := range box {
			v, err := at(f, a)
			if err != nil {
				return nil, err
			}
			box[f] = v
		}

		detections = append(detections, postprocess.Detection{
			X:          box[0],
			Y:          box[1],
			Width:      box[2],
			Height:     box[3],
			Confidence: bestScore,
			Class:      className(classes, bestClass),
		})
	}

	return detections, nil
}

func className(classes []string, id int) string {
	if id >= 0 && id < len(classes) && classes[id] != "" {
		return classes[id]
	}
	return "class_" + strconv.Itoa(id)
}
