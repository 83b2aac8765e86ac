package model

import "github.com/rotisserie/eris"

// Store-level sentinels. Callers match them with errors.Is.
var (
	ErrNotFound     = eris.New("model: not found")
	ErrStateChanged = eris.New("model: state changed")
)

// PlaceFilter scopes a listing of canonical records.
type PlaceFilter struct {
	IDs          []string
	Region       string
	Neighborhood string
	// StaleOnly keeps places whose confidence was never computed or is older
	// than the last record update.
	StaleOnly bool
	// MissingGPID keeps places without a google_place_id.
	MissingGPID bool
	Limit       int
}

// GpidQueueSort orders a GPID queue listing.
type GpidQueueSort string

const (
	SortSimilarityDesc GpidQueueSort = "similarity_desc"
	SortSimilarityAsc  GpidQueueSort = "similarity_asc"
	SortCreatedAsc     GpidQueueSort = "created_asc"
	SortCreatedDesc    GpidQueueSort = "created_desc"
)

// ParseGpidQueueSort validates s. An empty string selects similarity_desc.
func ParseGpidQueueSort(s string) (GpidQueueSort, error) {
	switch st := GpidQueueSort(s); st {
	case "":
		return SortSimilarityDesc, nil
	case SortSimilarityDesc, SortSimilarityAsc, SortCreatedAsc, SortCreatedDesc:
		return st, nil
	}
	return "", eris.Errorf("model: unknown sort %q", s)
}

// GpidQueueFilter scopes a GPID queue listing.
type GpidQueueFilter struct {
	HumanStatus    HumanStatus
	ResolverStatus ResolverStatus
	ReasonCode     string
	Sort           GpidQueueSort
	Limit          int
	Offset         int
}

// GpidDecision is one reviewer action on a GPID queue item.
type GpidDecision struct {
	Status   HumanStatus
	GPID     string
	Reviewer string
	Note     string
}

// ReviewFilter scopes a duplicate review listing.
type ReviewFilter struct {
	// Statuses defaults to the open states.
	Statuses []ReviewStatus
	Limit    int
	Offset   int
}

// ReviewDecision is the persisted outcome of one duplicate review.
type ReviewDecision struct {
	QueueID    string     `json:"queue_id"`
	Resolution Resolution `json:"resolution"`
	Notes      string     `json:"notes,omitempty"`
	Reviewer   string     `json:"reviewer,omitempty"`
}
