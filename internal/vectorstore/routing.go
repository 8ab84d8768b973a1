package vectorstore

import (
	"sort"
	"strings"
)

// RouteCollection derives a vector collection name from a base namespace,
// the document's type, and its dominant extracted entity kind (spec.md
// §4.7), rather than writing every document's vectors to one fixed
// collection.
func RouteCollection(base, docType string, entityKinds []string) string {
	dt := sanitizeSegment(docType)
	if dt == "" {
		dt = "generic"
	}
	dk := sanitizeSegment(dominantKind(entityKinds))
	if dk == "" {
		dk = "generic"
	}
	return base + "__" + dt + "__" + dk
}

// dominantKind returns the most frequent kind in kinds, breaking ties
// lexicographically for determinism.
func dominantKind(kinds []string) string {
	if len(kinds) == 0 {
		return ""
	}
	counts := map[string]int{}
	for _, k := range kinds {
		counts[k]++
	}
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names[0]
}

// sanitizeSegment normalizes a routing segment to lowercase
// alphanumerics and underscores, safe for use in a collection name.
func sanitizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
