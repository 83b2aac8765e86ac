package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnknownStatus is returned when a status string is outside its enum.
var ErrUnknownStatus = eris.New("model: unknown status")

// ResolverStatus is the terminal outcome of resolving one place's GPID.
type ResolverStatus string

const (
	ResolverMatch     ResolverStatus = "MATCH"
	ResolverAmbiguous ResolverStatus = "AMBIGUOUS"
	ResolverNoMatch   ResolverStatus = "NO_MATCH"
	ResolverError     ResolverStatus = "ERROR"
)

// ParseResolverStatus validates s.
func ParseResolverStatus(s string) (ResolverStatus, error) {
	switch st := ResolverStatus(s); st {
	case ResolverMatch, ResolverAmbiguous, ResolverNoMatch, ResolverError:
		return st, nil
	}
	return "", eris.Wrapf(ErrUnknownStatus, "resolver status %q", s)
}

// NeedsReview reports whether the outcome must be escalated to a human.
func (s ResolverStatus) NeedsReview() bool {
	return s != ResolverMatch
}

// HumanStatus is the review state of a GPID queue item.
type HumanStatus string

const (
	HumanPending   HumanStatus = "PENDING"
	HumanApproved  HumanStatus = "APPROVED"
	HumanRejected  HumanStatus = "REJECTED"
	HumanAmbiguous HumanStatus = "AMBIGUOUS"
)

// ParseHumanStatus validates s.
func ParseHumanStatus(s string) (HumanStatus, error) {
	switch st := HumanStatus(s); st {
	case HumanPending, HumanApproved, HumanRejected, HumanAmbiguous:
		return st, nil
	}
	return "", eris.Wrapf(ErrUnknownStatus, "human status %q", s)
}

// CanTransition reports whether a reviewer may move an item from s to to.
// Only pending items are decided, and every decision is terminal.
func (s HumanStatus) CanTransition(to HumanStatus) bool {
	if s != HumanPending {
		return false
	}
	switch to {
	case HumanApproved, HumanRejected, HumanAmbiguous:
		return true
	}
	return false
}

// Decision returns the recorded decision for a terminal status.
func (s HumanStatus) Decision() HumanDecision {
	switch s {
	case HumanApproved:
		return DecisionApplyGPID
	case HumanRejected:
		return DecisionMarkNoMatch
	case HumanAmbiguous:
		return DecisionMarkAmbiguous
	}
	return ""
}

// HumanDecision is the action a reviewer took.
type HumanDecision string

const (
	DecisionApplyGPID     HumanDecision = "APPLY_GPID"
	DecisionMarkNoMatch   HumanDecision = "MARK_NO_MATCH"
	DecisionMarkAmbiguous HumanDecision = "MARK_AMBIGUOUS"
)

// Reason codes attached to resolver outcomes.
const (
	ReasonExistingGPID      = "EXISTING_GPID"
	ReasonNearbyStrongMatch = "NEARBY_STRONG_MATCH"
	ReasonTextSingleHighSim = "TEXT_SINGLE_HIGH_SIM"
	ReasonTextSingleLowSim  = "TEXT_SINGLE_LOW_SIM"
	ReasonTextZeroResults   = "TEXT_ZERO_RESULTS"
	ReasonTextMultiResults  = "TEXT_MULTI_RESULTS"
	ReasonTiebreakWebsite   = "TIEBREAK_WEBSITE"
	ReasonTiebreakAddress   = "TIEBREAK_ADDRESS"
	ReasonTiebreakDistance  = "TIEBREAK_DISTANCE"
	ReasonNearbyAPIError    = "NEARBY_API_ERROR"
	ReasonTextAPIError      = "TEXT_API_ERROR"
	ReasonDetailsAPIError   = "DETAILS_API_ERROR"
	ReasonMissingName       = "MISSING_NAME"
)

// GpidCandidate is one Places result kept for human inspection.
type GpidCandidate struct {
	GooglePlaceID    string   `json:"google_place_id"`
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address,omitempty"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
	Types            []string `json:"types,omitempty"`
	BusinessStatus   string   `json:"business_status,omitempty"`
	Website          string   `json:"website,omitempty"`
	Similarity       float64  `json:"similarity"`
}

// GpidQueueItem is an unresolved resolver outcome awaiting review.
type GpidQueueItem struct {
	ID              string          `json:"id"`
	PlaceID         string          `json:"place_id"`
	PlaceName       string          `json:"place_name,omitempty"`
	PlaceSlug       string          `json:"place_slug,omitempty"`
	CandidateGPID   string          `json:"candidate_gpid,omitempty"`
	ResolverStatus  ResolverStatus  `json:"resolver_status"`
	ReasonCode      string          `json:"reason_code"`
	SimilarityScore *float64        `json:"similarity_score,omitempty"`
	Candidates      []GpidCandidate `json:"candidates,omitempty"`
	HumanStatus     HumanStatus     `json:"human_status"`
	HumanDecision   HumanDecision   `json:"human_decision,omitempty"`
	HumanNote       string          `json:"human_note,omitempty"`
	ReviewedBy      string          `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	RunID           string          `json:"run_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// GpidQueueStats counts items per human status.
type GpidQueueStats struct {
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Ambiguous int `json:"ambiguous"`
}
