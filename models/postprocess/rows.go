package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
)

// DefaultRowProximity is the vertical distance, in canonical frame pixels,
// under which a box joins an existing row.
const DefaultRowProximity float32 = 20

// Row is a group of boxes judged to lie at the same vertical position.
type Row struct {
	Boxes []Box
	sumY  float32
}

// MeanY returns the mean vertical centre of the row's boxes.
func (r *Row) MeanY() float32 {
	if len(r.Boxes) == 0 {
		return 0
	}
	return r.sumY / float32(len(r.Boxes))
}

func (r *Row) add(b Box) {
	r.Boxes = append(r.Boxes, b)
	r.sumY += b.Y
}

// ClusterRows groups boxes into rows.
//
// Boxes are visited in input order. A box joins the first row whose running
// mean centre Y is within proximity of its own centre Y, otherwise it starts
// a new row. Boxes are never reassigned once placed. Within a row boxes are
// sorted by ascending centre X and rows are sorted by ascending mean Y.
//
// Arguments:
//   - boxes: The boxes to cluster. Not modified.
//   - proximity: The maximum (exclusive) vertical distance to a row mean.
//
// Returns:
//   - []Row: The ordered rows. Empty for empty input.
func ClusterRows(boxes []Box, proximity float32) []Row {
	rows := make([]Row, 0)

	for _, b := range boxes {
		placed := false
		for i := range rows {
			if math32.Abs(b.Y-rows[i].MeanY()) < proximity {
				rows[i].add(b)
				placed = true
				break
			}
		}
		if !placed {
			var row Row
			row.add(b)
			rows = append(rows, row)
		}
	}

	for i := range rows {
		sort.SliceStable(rows[i].Boxes, func(a, c int) bool {
			return rows[i].Boxes[a].X < rows[i].Boxes[c].X
		})
	}
	sort.SliceStable(rows, func(a, c int) bool {
		return rows[a].MeanY() < rows[c].MeanY()
	})

	return rows
}

// Number assigns IDs 1..N to the boxes of rows in reading order and returns
// them flattened. The rows are updated in place.
func Number(rows []Row) []Box {
	ordered := make([]Box, 0)
	for i := range rows {
		for j := range rows[i].Boxes {
			rows[i].Boxes[j].ID = len(ordered) + 1
			ordered = append(ordered, rows[i].Boxes[j])
		}
	}
	return ordered
}

// Order clusters boxes into rows and returns them flattened in reading order
// with IDs 1..N assigned. The input slice is not modified.
func Order(boxes []Box, proximity float32) []Box {
	return Number(ClusterRows(boxes, proximity))
}
