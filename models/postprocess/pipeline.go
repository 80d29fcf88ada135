package postprocess

// Options configures a full post-processing pass.
type Options struct {
	Thresholds   Thresholds
	RowProximity float32
	ClassAware   bool
}

// AnnotateRows runs confidence filtering, greedy suppression and row
// clustering. IDs are not assigned; see Number.
func AnnotateRows(detections []Detection, opts Options) []Row {
	proximity := opts.RowProximity
	if proximity <= 0 {
		proximity = DefaultRowProximity
	}

	candidates := FilterByConfidence(detections, opts.Thresholds.Confidence)
	kept := ApplyNMS(candidates, NMSConfig{
		IoUThreshold: opts.Thresholds.Overlap,
		ClassAware:   opts.ClassAware,
	})

	return ClusterRows(ToBoxes(kept), proximity)
}

// Annotate runs the detection post-processing pipeline: confidence filter,
// greedy suppression, row clustering and ID assignment. The returned boxes
// are freshly allocated and ordered by ID.
func Annotate(detections []Detection, opts Options) []Box {
	return Number(AnnotateRows(detections, opts))
}
