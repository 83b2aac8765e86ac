package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/sells-group/place-resolver/internal/geo"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/normalize"
	"github.com/sells-group/place-resolver/pkg/google"
)

// tieBreak narrows several text results to one. Steps run website, then
// address, then distance. A step that matches exactly one result decides;
// one that matches several hands only those to the next step; one that
// matches none leaves the set as it was. Distance is measured from the
// place when its location is known, else from the region centroid. It
// returns -1 when no step decides. Details are fetched only for results
// without a website, and cands is updated with what they return.
func (r *Resolver) tieBreak(ctx context.Context, p *model.Place, ref google.LatLng, hasRef bool, results []google.Place, cands []model.GpidCandidate) (int, string, error) {
	set := make([]int, len(results))
	for i := range results {
		set[i] = i
	}

	matches, err := r.byWebsite(ctx, p, results, set, cands)
	if err != nil {
		return -1, "", err
	}
	if i, done := narrow(&set, matches); done {
		return i, model.ReasonTiebreakWebsite, nil
	}

	if i, done := narrow(&set, byAddress(p, results, set)); done {
		return i, model.ReasonTiebreakAddress, nil
	}

	if !hasRef {
		ref = r.cfg.Centroid
	}
	if i := byDistance(ref, results, set, r.cfg.DistanceSafetyFraction); i >= 0 {
		return i, model.ReasonTiebreakDistance, nil
	}
	return -1, "", nil
}

// narrow reports the single match, or replaces set with matches when there
// are several.
func narrow(set *[]int, matches []int) (int, bool) {
	switch len(matches) {
	case 0:
		return -1, false
	case 1:
		return matches[0], true
	}
	*set = matches
	return -1, false
}

func (r *Resolver) byWebsite(ctx context.Context, p *model.Place, results []google.Place, set []int, cands []model.GpidCandidate) ([]int, error) {
	target := normalize.Domain(p.Website)
	if target == "" {
		return nil, nil
	}

	var matches []int
	for _, i := range set {
		res := results[i]
		site := res.WebsiteURI
		if site == "" && res.ID != "" {
			details, err := call(ctx, r, "get_details", func(ctx context.Context) (*google.Place, error) {
				return r.client.GetDetails(ctx, res.ID)
			})
			if err != nil {
				return nil, err
			}
			site = details.WebsiteURI
			if i < len(cands) {
				cands[i].Website = site
			}
		}
		if site != "" && normalize.Domain(site) == target {
			matches = append(matches, i)
		}
	}
	return matches, nil
}

// byAddress keeps results whose formatted address contains the place's
// normalized street line, and its postal code when one is known.
func byAddress(p *model.Place, results []google.Place, set []int) []int {
	street := streetKey(p.Address)
	if street == "" {
		return nil
	}
	postal := strings.TrimSpace(p.PostalCode)

	var matches []int
	for _, i := range set {
		addr := normalize.Address(results[i].FormattedAddress)
		if !strings.Contains(addr, street) {
			continue
		}
		if postal != "" && !strings.Contains(addr, postal) {
			continue
		}
		matches = append(matches, i)
	}
	return matches
}

func streetKey(address string) string {
	if i := strings.IndexByte(address, ','); i >= 0 {
		address = address[:i]
	}
	return normalize.Address(address)
}

// byDistance picks the closest result only when its squared distance to ref
// is at most fraction times the runner-up's.
func byDistance(ref google.LatLng, results []google.Place, set []int, fraction float64) int {
	type ranked struct {
		idx int
		d2  float64
	}
	var rs []ranked
	for _, i := range set {
		res := results[i]
		if res.Location == nil {
			continue
		}
		d := geo.Haversine(ref.Latitude, ref.Longitude, res.Location.Latitude, res.Location.Longitude)
		rs = append(rs, ranked{idx: i, d2: d * d})
	}
	if len(rs) < 2 {
		return -1
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].d2 < rs[j].d2 })

	if rs[1].d2 > 0 && rs[0].d2 <= fraction*rs[1].d2 {
		return rs[0].idx
	}
	return -1
}
