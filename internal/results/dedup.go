package results

import (
	"github.com/xkilldash9x/jsbox/api/schemas"
)

type detectionKey struct {
	name string
	code string
}

// DedupDetections merges detections sharing a (Name, Code) pair. The merged
// detection keeps the highest severity, the reason and snippet of the
// strongest occurrence, and the union of all feature maps. First-seen order
// is preserved.
func DedupDetections(ds []schemas.Detection) []schemas.Detection {
	index := make(map[detectionKey]int, len(ds))
	out := make([]schemas.Detection, 0, len(ds))
	for _, d := range ds {
		k := detectionKey{d.Name, d.Code}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			d.Features = copyFeatures(d.Features)
			out = append(out, d)
			continue
		}
		out[i] = merge(out[i], d)
	}
	return out
}

func merge(a, b schemas.Detection) schemas.Detection {
	strong, weak := a, b
	if b.Severity > a.Severity {
		strong, weak = b, a
	}
	merged := strong
	if merged.Snippet == "" {
		merged.Snippet = weak.Snippet
	}
	// On a key collision the stronger occurrence wins.
	features := copyFeatures(weak.Features)
	for k, v := range strong.Features {
		if features == nil {
			features = make(map[string]interface{}, len(strong.Features))
		}
		features[k] = v
	}
	merged.Features = features
	return merged
}

func copyFeatures(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
