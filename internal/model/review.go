package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ReviewStatus is the lifecycle state of a duplicate review item.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewDeferred ReviewStatus = "deferred"
	ReviewResolved ReviewStatus = "resolved"
)

// Open reports whether an item in this state can still be decided.
func (s ReviewStatus) Open() bool {
	return s == ReviewPending || s == ReviewDeferred
}

// Resolution is the final outcome of a duplicate review.
type Resolution string

const (
	ResolutionMerged       Resolution = "merged"
	ResolutionKeptSeparate Resolution = "kept_separate"
	ResolutionFlagged      Resolution = "flagged"
)

// ParseResolution validates s.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolutionMerged, ResolutionKeptSeparate, ResolutionFlagged:
		return r, nil
	}
	return "", eris.Wrapf(ErrUnknownStatus, "resolution %q", s)
}

// Decision is an operator action in the duplicate review session.
type Decision string

const (
	DecisionMerge     Decision = "merge"
	DecisionDifferent Decision = "different"
	DecisionSkip      Decision = "skip"
	DecisionFlag      Decision = "flag"
)

// ParseDecision validates s.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionMerge, DecisionDifferent, DecisionSkip, DecisionFlag:
		return d, nil
	}
	return "", eris.Wrapf(ErrUnknownStatus, "decision %q", s)
}

// Resolution maps a decision to the stored resolution. Skip has none.
func (d Decision) Resolution() (Resolution, bool) {
	switch d {
	case DecisionMerge:
		return ResolutionMerged, true
	case DecisionDifferent:
		return ResolutionKeptSeparate, true
	case DecisionFlag:
		return ResolutionFlagged, true
	}
	return "", false
}

// ConflictType describes why an upstream detector queued a pair.
type ConflictType string

const (
	ConflictLowConfidenceMatch ConflictType = "low_confidence_match"
	ConflictAttributeMismatch  ConflictType = "attribute_mismatch"
	ConflictPotentialDuplicate ConflictType = "potential_duplicate"
	ConflictNewEntity          ConflictType = "new_entity"
)

// ReviewRecord is one side of a duplicate pair, flattened for comparison.
type ReviewRecord struct {
	RawID        string          `json:"raw_id"`
	SourceName   string          `json:"source_name"`
	Name         string          `json:"name"`
	Lat          *float64        `json:"lat,omitempty"`
	Lng          *float64        `json:"lng,omitempty"`
	Address      string          `json:"address,omitempty"`
	Neighborhood string          `json:"neighborhood,omitempty"`
	Category     string          `json:"category,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	RawJSON      json.RawMessage `json:"raw_json,omitempty"`
}

// DuplicateReviewItem is a pair of records believed to be the same place.
type DuplicateReviewItem struct {
	QueueID           string        `json:"queue_id"`
	ConflictType      ConflictType  `json:"conflict_type"`
	RecordA           *ReviewRecord `json:"record_a"`
	RecordB           *ReviewRecord `json:"record_b,omitempty"`
	CanonicalID       string        `json:"canonical_id,omitempty"`
	MatchConfidence   *float64      `json:"match_confidence,omitempty"`
	ConflictingFields []string      `json:"conflicting_fields,omitempty"`
	Priority          int           `json:"priority"`
	Status            ReviewStatus  `json:"status"`
	Resolution        Resolution    `json:"resolution,omitempty"`
	ResolvedBy        string        `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ReviewStats counts duplicate review items by state.
type ReviewStats struct {
	Pending  int `json:"pending"`
	Deferred int `json:"deferred"`
	Resolved int `json:"resolved"`
}
