package models

import "strings"

// Layer names one stage of the medallion pipeline.
type Layer string

const (
	// LayerBronze is the raw ingest layer.
	LayerBronze Layer = "bronze"
	// LayerSilver is the cleaned and conformed layer.
	LayerSilver Layer = "silver"
	// LayerGold is the aggregated, business-facing layer.
	LayerGold Layer = "gold"
)

// Valid returns true if the layer is a known value.
func (l Layer) Valid() bool {
	switch l {
	case LayerBronze, LayerSilver, LayerGold:
		return true
	default:
		return false
	}
}

// CanonicalLayers returns the fixed, ordered layer sequence of every run.
func CanonicalLayers() []Layer {
	return []Layer{LayerBronze, LayerSilver, LayerGold}
}

// SourceRoot strips a trailing "_<layer>" suffix from a dataset reference so
// output names derived from it do not accumulate suffixes across layers.
func SourceRoot(ref string) string {
	for _, l := range CanonicalLayers() {
		suffix := "_" + string(l)
		if strings.HasSuffix(ref, suffix) {
			return strings.TrimSuffix(ref, suffix)
		}
	}
	return ref
}

// OutputReference derives the output dataset name for a layer.
// The result depends only on the source reference and the layer, so it is
// stable across retries and resumptions.
func OutputReference(sourceRef string, layer Layer) string {
	return SourceRoot(sourceRef) + "_" + string(layer)
}
