package fusion

import (
	"github.com/sells-group/place-resolver/internal/confidence"
	"github.com/sells-group/place-resolver/internal/model"
)

// ComputePlace builds the confidence map and overall score of one place.
// With no raw records the place itself is the only source, attributed to
// manualSource. Fields with no valid evidence are left out of the map.
func ComputePlace(p *model.Place, raws []model.RawRecord, ex *Extractor, cfg confidence.Config, manualSource string) (model.ConfidenceMap, float64) {
	var candidates map[model.Field][]model.Candidate
	if len(raws) == 0 {
		candidates = manualCandidates(p, manualSource)
	} else {
		candidates = ex.Candidates(raws)
	}

	m := make(model.ConfidenceMap, len(model.Fields))
	for _, f := range model.Fields {
		entry, ok := confidence.BuildEntry(f, candidates[f], ex.Registry(), cfg, confidence.Options{
			ChosenValue: p.FieldValue(f),
			HasLatLng:   p.HasLatLng(),
		})
		if ok {
			m[f] = entry
		}
	}
	return m, confidence.Aggregate(m, cfg.Weights)
}

func manualCandidates(p *model.Place, source string) map[model.Field][]model.Candidate {
	out := make(map[model.Field][]model.Candidate, len(model.Fields))
	for _, f := range model.Fields {
		if v := p.FieldValue(f); v != "" {
			out[f] = []model.Candidate{{Value: v, SourceID: source}}
		}
	}
	return out
}
