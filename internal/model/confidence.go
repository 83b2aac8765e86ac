package model

// Candidate is one source's claim for one field of one place.
type Candidate struct {
	Value    string `json:"value"`
	SourceID string `json:"source_id"`
}

// SourceValue pairs a source with the value it reported.
type SourceValue struct {
	SourceID string `json:"source_id"`
	Value    string `json:"value"`
}

// FieldConfidenceEntry explains the score of one field of one place.
type FieldConfidenceEntry struct {
	Value     string        `json:"value"`
	Score     float64       `json:"score"`
	Sources   []SourceValue `json:"sources"`
	Winner    string        `json:"winner"`
	Conflicts []string      `json:"conflicts"`
}

// ConfidenceMap holds the entries present for a place. Fields with no valid
// evidence are absent rather than zero-filled.
type ConfidenceMap map[Field]FieldConfidenceEntry
