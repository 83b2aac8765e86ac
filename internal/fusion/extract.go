// Package fusion recomputes per-field confidence for canonical places from
// their linked raw records.
package fusion

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/trust"
)

type keyPath []string

// Extractor turns raw records into typed candidates using each source's
// field map. Key paths are split once at construction.
type Extractor struct {
	reg      *trust.Registry
	paths    map[string]map[model.Field][]keyPath
	fallback map[model.Field][]keyPath
}

// NewExtractor precompiles the key paths of every source in reg.
func NewExtractor(reg *trust.Registry) *Extractor {
	e := &Extractor{
		reg:      reg,
		paths:    make(map[string]map[model.Field][]keyPath),
		fallback: compile(trust.DefaultFields),
	}
	for _, id := range reg.IDs() {
		e.paths[id] = compile(reg.Extraction(id))
	}
	return e
}

// Registry returns the registry the extractor was built from.
func (e *Extractor) Registry() *trust.Registry {
	return e.reg
}

func compile(fm trust.FieldMap) map[model.Field][]keyPath {
	out := make(map[model.Field][]keyPath, len(fm))
	for f, paths := range fm {
		for _, p := range paths {
			out[f] = append(out[f], strings.Split(p, "."))
		}
	}
	return out
}

// Candidates builds the candidate list of every field across raws. Records
// from sources the registry does not know are dropped, as are empty values.
func (e *Extractor) Candidates(raws []model.RawRecord) map[model.Field][]model.Candidate {
	out := make(map[model.Field][]model.Candidate, len(model.Fields))
	for _, r := range raws {
		source := e.reg.Canonical(r.SourceName)
		if !e.reg.Known(source) {
			zap.L().Debug("fusion: skipping raw record from unknown source",
				zap.String("raw_id", r.ID),
				zap.String("source", r.SourceName),
			)
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal(r.RawJSON, &doc); err != nil {
			zap.L().Warn("fusion: unreadable raw record",
				zap.String("raw_id", r.ID),
				zap.Error(err),
			)
			continue
		}

		paths, ok := e.paths[source]
		if !ok {
			paths = e.fallback
		}
		for _, f := range model.Fields {
			v := lookup(doc, paths[f])
			if strings.TrimSpace(v) == "" {
				continue
			}
			out[f] = append(out[f], model.Candidate{Value: v, SourceID: source})
		}
	}
	return out
}

// lookup returns the first non-empty value found along paths.
func lookup(doc map[string]any, paths []keyPath) string {
	for _, p := range paths {
		var cur any = doc
		for _, k := range p {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[k]
		}
		if s := stringify(cur); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return ""
	default:
		// Objects and arrays (structured hours) are kept as compact JSON.
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return string(data)
		}
		if s := buf.String(); s != "{}" && s != "[]" {
			return s
		}
		return ""
	}
}
