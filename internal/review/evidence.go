// Package review is the duplicate review workflow: evidence for a pair of
// records, the operator session, and the worker that persists decisions.
package review

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/sells-group/place-resolver/internal/geo"
	"github.com/sells-group/place-resolver/internal/model"
)

// Similarity classes for a compared field.
const (
	ClassMatch    = "match"
	ClassConflict = "conflict"
	ClassSimilar  = "similar"
	ClassMissing  = "missing"
)

// Priority sources. A field's priority source marks the side most likely to
// be correct; it never resolves anything on its own.
const (
	PriorityEditorial = "editorial"
	PriorityGoogle    = "google"
)

const (
	matchAbove    = 0.95
	conflictBelow = 0.80
)

// Side names one record of a pair.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// FieldComparison is the evidence for one comparable field.
type FieldComparison struct {
	Field          string  `json:"field"`
	A              string  `json:"a"`
	B              string  `json:"b"`
	Similarity     float64 `json:"similarity"`
	Class          string  `json:"class"`
	PrioritySource string  `json:"priority_source"`
	Preferred      Side    `json:"preferred,omitempty"`
}

// Evidence is everything an operator sees for one pair.
type Evidence struct {
	DistanceM *float64          `json:"distance_m,omitempty"`
	Proximity string            `json:"proximity,omitempty"`
	Warning   bool              `json:"warning"`
	Fields    []FieldComparison `json:"fields"`
}

type comparedField struct {
	name     string
	priority string
	value    func(*model.ReviewRecord) string
}

var comparedFields = []comparedField{
	{"name", PriorityEditorial, func(r *model.ReviewRecord) string { return r.Name }},
	{"address", PriorityGoogle, func(r *model.ReviewRecord) string { return r.Address }},
	{"neighborhood", PriorityEditorial, func(r *model.ReviewRecord) string { return r.Neighborhood }},
	{"category", PriorityEditorial, func(r *model.ReviewRecord) string { return r.Category }},
	{"phone", PriorityGoogle, func(r *model.ReviewRecord) string { return r.Phone }},
}

// Compare builds the evidence for a pair. b may be nil for single-record
// items, in which case only a's values are shown.
func Compare(a, b *model.ReviewRecord) Evidence {
	if a == nil {
		a = &model.ReviewRecord{}
	}
	other := b
	if other == nil {
		other = &model.ReviewRecord{}
	}

	var ev Evidence
	if d, ok := geo.Distance(a.Lat, a.Lng, other.Lat, other.Lng); ok {
		ev.DistanceM = &d
		ev.Proximity, ev.Warning = geo.Classify(d)
	}

	ev.Fields = make([]FieldComparison, 0, len(comparedFields))
	for _, f := range comparedFields {
		va, vb := strings.TrimSpace(f.value(a)), strings.TrimSpace(f.value(other))
		sim := FieldSimilarity(va, vb)
		ev.Fields = append(ev.Fields, FieldComparison{
			Field:          f.name,
			A:              va,
			B:              vb,
			Similarity:     sim,
			Class:          classify(va, vb, sim),
			PrioritySource: f.priority,
			Preferred:      preferred(f.priority, a.SourceName, other.SourceName),
		})
	}
	return ev
}

// Conflicts returns the names of fields classed as conflicts.
func (e Evidence) Conflicts() []string {
	var out []string
	for _, f := range e.Fields {
		if f.Class == ClassConflict {
			out = append(out, f.Field)
		}
	}
	return out
}

// FieldSimilarity is 1 − editDistance/max(len), compared case-insensitively.
// Identical values score 1; an empty side scores 0.
func FieldSimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := levenshtein.Distance(a, b, nil)
	return float64(longest-d) / float64(longest)
}

func classify(a, b string, sim float64) string {
	if a == "" || b == "" {
		return ClassMissing
	}
	switch {
	case sim > matchAbove:
		return ClassMatch
	case sim < conflictBelow:
		return ClassConflict
	}
	return ClassSimilar
}

// preferred returns the side whose source carries the field's priority
// source, checking a first.
func preferred(priority, sourceA, sourceB string) Side {
	switch {
	case strings.Contains(strings.ToLower(sourceA), priority):
		return SideA
	case strings.Contains(strings.ToLower(sourceB), priority):
		return SideB
	}
	return ""
}
