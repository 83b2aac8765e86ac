// Package trust maps source identifiers to trust tiers and to the raw JSON
// key paths each source uses for the scored place fields.
package trust

import (
	"maps"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/place-resolver/internal/model"
)

// FieldMap lists, per field, the dotted key paths to try in order when
// reading a raw record of one source.
type FieldMap map[model.Field][]string

// Source configures one source in the registry file.
type Source struct {
	ID        string              `yaml:"id"`
	TrustTier float64             `yaml:"trust_tier"`
	Aliases   []string            `yaml:"aliases,omitempty"`
	Fields    map[string][]string `yaml:"fields,omitempty"`
}

// DefaultFields is used for any field a source does not map explicitly.
var DefaultFields = FieldMap{
	model.FieldName:        {"name"},
	model.FieldAddress:     {"address_street", "address"},
	model.FieldPhone:       {"phone"},
	model.FieldWebsite:     {"website"},
	model.FieldHours:       {"hours"},
	model.FieldDescription: {"description"},
}

// Registry is an immutable source → trust tier table. Unknown sources have
// no entry; they are not the same as a zero tier.
type Registry struct {
	tiers   map[string]float64
	aliases map[string]string
	fields  map[string]FieldMap
}

// New validates sources and builds a registry.
func New(sources []Source) (*Registry, error) {
	r := &Registry{
		tiers:   make(map[string]float64, len(sources)),
		aliases: make(map[string]string),
		fields:  make(map[string]FieldMap, len(sources)),
	}
	for _, s := range sources {
		id := key(s.ID)
		if id == "" {
			return nil, eris.New("trust: source with empty id")
		}
		if s.TrustTier < 0 || s.TrustTier > 1 {
			return nil, eris.Errorf("trust: source %s trust_tier %v outside [0,1]", id, s.TrustTier)
		}
		if _, dup := r.tiers[id]; dup {
			return nil, eris.Errorf("trust: duplicate source %s", id)
		}
		r.tiers[id] = s.TrustTier

		for _, a := range s.Aliases {
			r.aliases[key(a)] = id
		}

		fm := make(FieldMap, len(DefaultFields))
		maps.Copy(fm, DefaultFields)
		for name, paths := range s.Fields {
			f, err := model.ParseField(name)
			if err != nil {
				return nil, eris.Wrapf(err, "trust: source %s", id)
			}
			if len(paths) == 0 {
				return nil, eris.Errorf("trust: source %s field %s has no key paths", id, name)
			}
			fm[f] = paths
		}
		r.fields[id] = fm
	}
	return r, nil
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := New(defaultSources)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultSources = []Source{
	{ID: "michelin", TrustTier: 0.9, Aliases: []string{"michelin_guide", "michelin guide"}},
	{ID: "manual_owner", TrustTier: 0.9, Aliases: []string{"manual", "admin"}},
	{
		ID: "google_places", TrustTier: 0.85,
		Aliases: []string{"google", "google_places_api", "gpid"},
		Fields: map[string][]string{
			"name":    {"name", "displayName.text"},
			"address": {"address_street", "formatted_address", "formattedAddress", "address"},
			"phone":   {"phone", "nationalPhoneNumber", "formatted_phone_number"},
			"website": {"website", "websiteUri"},
			"hours":   {"hours", "regularOpeningHours.weekdayDescriptions"},
		},
	},
	{ID: "editorial", TrustTier: 0.8, Aliases: []string{"editorial_article", "article"}},
	{ID: "infatuation", TrustTier: 0.8, Aliases: []string{"the_infatuation"}},
	{ID: "eater", TrustTier: 0.75, Aliases: []string{"eater_la"}},
	{ID: "ai_extract", TrustTier: 0.5, Aliases: []string{"ai", "llm_extract"}},
}

// LoadFile reads a registry from a YAML file with a top-level "sources" list.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "trust: read %s", path)
	}

	var wrapper struct {
		Sources []Source `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "trust: parse registry")
	}
	if len(wrapper.Sources) == 0 {
		return nil, eris.Errorf("trust: %s defines no sources", path)
	}
	return New(wrapper.Sources)
}

// WithTiers returns a copy of r whose tiers are overridden by tiers (for
// example the sources table). Sources only present in tiers get the default
// field map.
func (r *Registry) WithTiers(tiers map[string]float64) (*Registry, error) {
	out := &Registry{
		tiers:   maps.Clone(r.tiers),
		aliases: maps.Clone(r.aliases),
		fields:  maps.Clone(r.fields),
	}
	for id, t := range tiers {
		id = key(id)
		if t < 0 || t > 1 {
			return nil, eris.Errorf("trust: source %s trust_tier %v outside [0,1]", id, t)
		}
		out.tiers[id] = t
		if _, ok := out.fields[id]; !ok {
			out.fields[id] = DefaultFields
		}
	}
	return out, nil
}

// Score returns the trust tier for a canonical source id.
func (r *Registry) Score(id string) (float64, bool) {
	t, ok := r.tiers[id]
	return t, ok
}

// Trust returns the tier for id, or 0 for unknown sources.
func (r *Registry) Trust(id string) float64 {
	return r.tiers[id]
}

// Known reports whether id has a trust tier.
func (r *Registry) Known(id string) bool {
	_, ok := r.tiers[id]
	return ok
}

// Canonical maps a raw source name to its canonical id. Names without an
// alias are lowercased and trimmed.
func (r *Registry) Canonical(raw string) string {
	k := key(raw)
	if id, ok := r.aliases[k]; ok {
		return id
	}
	return k
}

// Extraction returns the field map for a canonical source id.
func (r *Registry) Extraction(id string) FieldMap {
	if fm, ok := r.fields[id]; ok {
		return fm
	}
	return DefaultFields
}

// IDs returns the known source ids sorted by descending trust, then id.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.tiers))
	for id := range r.tiers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if r.tiers[ids[i]] != r.tiers[ids[j]] {
			return r.tiers[ids[i]] > r.tiers[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
