package httpstore

import "github.com/djlord-it/cronstore/internal/docstore"

// defaultSearchSize is used when the query sets no limit. The store's own
// default of 10 would silently truncate candidate lists.
const defaultSearchSize = 1000

// searchBody renders q as a filtered bool query that also asks for
// per-hit versions.
func searchBody(q docstore.Query) map[string]any {
	filters := make([]any, 0, len(q.Terms)+len(q.Ranges))
	for _, t := range q.Terms {
		filters = append(filters, map[string]any{
			"terms": map[string]any{t.Field: t.Values},
		})
	}
	for _, r := range q.Ranges {
		bounds := map[string]any{}
		if r.Gte != nil {
			bounds["gte"] = *r.Gte
		}
		if r.Lte != nil {
			bounds["lte"] = *r.Lte
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{r.Field: bounds},
		})
	}

	size := q.Limit
	if size <= 0 {
		size = defaultSearchSize
	}

	return map[string]any{
		"version": true,
		"size":    size,
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
	}
}
