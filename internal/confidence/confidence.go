// Package confidence scores place fields across competing sources and rolls
// field scores up into an overall confidence.
package confidence

import (
	"github.com/sells-group/place-resolver/internal/config"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/normalize"
	"github.com/sells-group/place-resolver/internal/trust"
)

// Config holds the score adjustments and aggregation weights. It is passed
// explicitly to every computation.
type Config struct {
	AgreementBoost  float64
	ConflictPenalty float64
	GeocodeBoost    float64
	Weights         Weights
}

// Weights maps each field to its share of the overall score.
type Weights map[model.Field]float64

// DefaultWeights is the v1 weight table.
func DefaultWeights() Weights {
	return Weights{
		model.FieldName:        0.25,
		model.FieldAddress:     0.25,
		model.FieldHours:       0.15,
		model.FieldDescription: 0.15,
		model.FieldPhone:       0.10,
		model.FieldWebsite:     0.10,
	}
}

// DefaultConfig returns the production scoring parameters.
func DefaultConfig() Config {
	return Config{
		AgreementBoost:  0.05,
		ConflictPenalty: 0.10,
		GeocodeBoost:    0.05,
		Weights:         DefaultWeights(),
	}
}

// FromConfig builds a Config from the application config section. Weights
// listed there override the defaults per field.
func FromConfig(c config.ConfidenceConfig) Config {
	cfg := Config{
		AgreementBoost:  c.AgreementBoost,
		ConflictPenalty: c.ConflictPenalty,
		GeocodeBoost:    c.GeocodeBoost,
		Weights:         DefaultWeights(),
	}
	for name, w := range c.Weights {
		if f, err := model.ParseField(name); err == nil {
			cfg.Weights[f] = w
		}
	}
	return cfg
}

// Options carries the per-call inputs of Calculate.
type Options struct {
	// ChosenValue is the canonical record's current value, if any.
	ChosenValue string
	// HasLatLng adds the geocode boost to address scores.
	HasLatLng bool
}

// Result is the outcome of scoring one field.
type Result struct {
	Score      float64
	Winner     string
	Supporting []string
	Conflicts  []string
}

type group struct {
	norm      string
	sourceIDs []string
}

// Calculate scores one field across candidates. Candidates are grouped by
// normalized value; the group matching the chosen value wins, otherwise the
// group holding the single most trusted source. The score starts at the best
// supporting trust tier, gains AgreementBoost with two or more supporters,
// loses ConflictPenalty when any other group exists, gains GeocodeBoost for
// addresses with coordinates, and is clamped to [0,1]. Candidates from
// sources without a trust tier are ignored: they neither support nor
// conflict.
func Calculate(field model.Field, candidates []model.Candidate, reg *trust.Registry, cfg Config, opts Options) Result {
	chosen := ""
	if opts.ChosenValue != "" {
		chosen = normalize.Field(field, opts.ChosenValue)
	}
	if chosen == "" && len(candidates) == 0 {
		return Result{}
	}

	groups := groupCandidates(field, candidates, reg)

	winnerIdx := -1
	if chosen != "" {
		for i, g := range groups {
			if g.norm == chosen {
				winnerIdx = i
				break
			}
		}
	}
	if winnerIdx < 0 {
		best := -1.0
		for i, g := range groups {
			if t := maxTrust(g.sourceIDs, reg); t > best {
				best = t
				winnerIdx = i
			}
		}
	}
	if winnerIdx < 0 {
		return Result{}
	}

	supporting := groups[winnerIdx].sourceIDs
	var conflicts []string
	for i, g := range groups {
		if i != winnerIdx {
			conflicts = appendUnique(conflicts, g.sourceIDs...)
		}
	}

	score := maxTrust(supporting, reg)
	if len(supporting) >= 2 {
		score += cfg.AgreementBoost
	}
	if len(conflicts) >= 1 {
		score -= cfg.ConflictPenalty
	}
	if field == model.FieldAddress && opts.HasLatLng {
		score += cfg.GeocodeBoost
	}

	return Result{
		Score:      clamp(score),
		Winner:     topSource(supporting, reg),
		Supporting: supporting,
		Conflicts:  conflicts,
	}
}

// BuildEntry scores a field and builds its persisted entry. It reports false
// when there is no valid evidence: no winner, a winner with no known trust,
// or nothing to display.
func BuildEntry(field model.Field, candidates []model.Candidate, reg *trust.Registry, cfg Config, opts Options) (model.FieldConfidenceEntry, bool) {
	res := Calculate(field, candidates, reg, cfg, opts)
	if res.Winner == "" || len(res.Supporting) == 0 {
		return model.FieldConfidenceEntry{}, false
	}
	if maxTrust(res.Supporting, reg) <= 0 {
		return model.FieldConfidenceEntry{}, false
	}

	winnerNorm := ""
	display := ""
	for _, c := range candidates {
		if c.SourceID == res.Winner {
			if n := normalize.Field(field, c.Value); n != "" {
				winnerNorm = n
				display = c.Value
				break
			}
		}
	}
	// Prefer the canonical value when it is what the winning group says.
	if opts.ChosenValue != "" && normalize.Field(field, opts.ChosenValue) == winnerNorm {
		display = opts.ChosenValue
	}
	if display == "" {
		return model.FieldConfidenceEntry{}, false
	}

	var sources []model.SourceValue
	for _, c := range candidates {
		if normalize.Field(field, c.Value) == "" {
			continue
		}
		if contains(res.Supporting, c.SourceID) || contains(res.Conflicts, c.SourceID) {
			sources = append(sources, model.SourceValue{SourceID: c.SourceID, Value: c.Value})
		}
	}

	conflicts := make([]string, 0, len(res.Conflicts))
	for _, id := range res.Conflicts {
		if id != res.Winner {
			conflicts = append(conflicts, id)
		}
	}

	return model.FieldConfidenceEntry{
		Value:     display,
		Score:     res.Score,
		Sources:   sources,
		Winner:    res.Winner,
		Conflicts: conflicts,
	}, true
}

func groupCandidates(field model.Field, candidates []model.Candidate, reg *trust.Registry) []group {
	var groups []group
	index := make(map[string]int)
	for _, c := range candidates {
		if !reg.Known(c.SourceID) {
			continue
		}
		n := normalize.Field(field, c.Value)
		if n == "" {
			continue
		}
		if i, ok := index[n]; ok {
			groups[i].sourceIDs = appendUnique(groups[i].sourceIDs, c.SourceID)
			continue
		}
		index[n] = len(groups)
		groups = append(groups, group{norm: n, sourceIDs: []string{c.SourceID}})
	}
	return groups
}

func maxTrust(ids []string, reg *trust.Registry) float64 {
	best := 0.0
	for _, id := range ids {
		if t := reg.Trust(id); t > best {
			best = t
		}
	}
	return best
}

// topSource returns the most trusted id, first seen on ties.
func topSource(ids []string, reg *trust.Registry) string {
	if len(ids) == 0 {
		return ""
	}
	top := ids[0]
	for _, id := range ids[1:] {
		if reg.Trust(id) > reg.Trust(top) {
			top = id
		}
	}
	return top
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if !contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
