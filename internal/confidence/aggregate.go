package confidence

import "github.com/sells-group/place-resolver/internal/model"

// NeutralScore is the overall confidence of a place with no scored fields.
// It means "no information", not "confirmed low".
const NeutralScore = 0.5

// Aggregate returns the weighted mean of the field scores present in m.
// Absent fields count toward neither numerator nor denominator.
func Aggregate(m model.ConfidenceMap, w Weights) float64 {
	var sum, weightSum float64
	for _, f := range model.Fields {
		entry, ok := m[f]
		if !ok {
			continue
		}
		sum += entry.Score * w[f]
		weightSum += w[f]
	}
	if weightSum == 0 {
		return NeutralScore
	}
	return clamp(sum / weightSum)
}
