package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Field is one of the scored place fields.
type Field string

const (
	FieldName        Field = "name"
	FieldAddress     Field = "address"
	FieldPhone       Field = "phone"
	FieldWebsite     Field = "website"
	FieldHours       Field = "hours"
	FieldDescription Field = "description"
)

// Fields is the fixed v1 field set in scoring order.
var Fields = []Field{
	FieldName,
	FieldAddress,
	FieldPhone,
	FieldWebsite,
	FieldHours,
	FieldDescription,
}

// ErrUnknownField is returned when parsing a field outside the v1 set.
var ErrUnknownField = eris.New("model: unknown field")

// ParseField validates s against the v1 field set.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownField, "%q", s)
}

// Place is the canonical ("golden") record for a real-world place.
type Place struct {
	ID                  string          `json:"id"`
	Slug                string          `json:"slug,omitempty"`
	Name                string          `json:"name"`
	Address             string          `json:"address,omitempty"`
	Neighborhood        string          `json:"neighborhood,omitempty"`
	City                string          `json:"city,omitempty"`
	PostalCode          string          `json:"postal_code,omitempty"`
	Region              string          `json:"region,omitempty"`
	Phone               string          `json:"phone,omitempty"`
	Website             string          `json:"website,omitempty"`
	Hours               json.RawMessage `json:"hours,omitempty"`
	Description         string          `json:"description,omitempty"`
	Lat                 *float64        `json:"lat,omitempty"`
	Lng                 *float64        `json:"lng,omitempty"`
	GooglePlaceID       string          `json:"google_place_id,omitempty"`
	Confidence          ConfidenceMap   `json:"confidence,omitempty"`
	OverallConfidence   *float64        `json:"overall_confidence,omitempty"`
	ConfidenceUpdatedAt *time.Time      `json:"confidence_updated_at,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// HasLatLng reports whether the place has usable coordinates. Zero is
// treated as missing because upstream imports write 0,0 for "unknown".
func (p *Place) HasLatLng() bool {
	return p.Lat != nil && p.Lng != nil && *p.Lat != 0 && *p.Lng != 0
}

// FieldValue returns the chosen canonical value for f. Hours are returned as
// their JSON text; a JSON string is unquoted.
func (p *Place) FieldValue(f Field) string {
	switch f {
	case FieldName:
		return p.Name
	case FieldAddress:
		return p.Address
	case FieldPhone:
		return p.Phone
	case FieldWebsite:
		return p.Website
	case FieldHours:
		return HoursText(p.Hours)
	case FieldDescription:
		return p.Description
	}
	return ""
}

// HoursText renders stored hours for comparison: JSON strings are unquoted,
// objects and arrays are kept as JSON text, null is empty.
func HoursText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// RawRecord is one source's unprocessed claim about a place.
type RawRecord struct {
	ID         string          `json:"id"`
	PlaceID    string          `json:"place_id,omitempty"`
	SourceName string          `json:"source_name"`
	RawJSON    json.RawMessage `json:"raw_json"`
	Lat        *float64        `json:"lat,omitempty"`
	Lng        *float64        `json:"lng,omitempty"`
	Processed  bool            `json:"processed"`
	CreatedAt  time.Time       `json:"created_at"`
}

// HasLatLng reports whether the raw record carries usable coordinates.
func (r *RawRecord) HasLatLng() bool {
	return r.Lat != nil && r.Lng != nil && *r.Lat != 0 && *r.Lng != 0
}
