package resolver

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/sells-group/place-resolver/internal/normalize"
)

// Similarity compares two place names in [0,1]. Both names are normalized
// and their tokens sorted, so word order does not matter; the score is an
// edit-distance similarity with a bonus for a shared prefix.
func Similarity(a, b string) float64 {
	ka, kb := tokenSort(a), tokenSort(b)
	if ka == "" || kb == "" {
		return 0
	}
	if ka == kb {
		return 1
	}
	return levenshtein.Match(ka, kb, nil)
}

func tokenSort(s string) string {
	tokens := strings.Fields(normalize.Name(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// cleanName drops the comma-delimited metadata some imports append to a
// name ("Bestia,restaurant,Arts District" becomes "Bestia").
func cleanName(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
