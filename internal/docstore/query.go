package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Query is a conjunction of filters over top-level document fields.
type Query struct {
	Terms  []Term
	Ranges []Range
	// Limit caps the number of hits; zero lets the backend decide.
	Limit int
}

// Term matches documents whose field equals one of Values.
type Term struct {
	Field  string
	Values []any
}

// Range matches documents whose numeric field lies in [Gte, Lte].
// A nil bound is open.
type Range struct {
	Field string
	Gte   *int64
	Lte   *int64
}

// Match reports whether a decoded document satisfies q. Backends without
// a native query engine use it to filter.
func (q Query) Match(doc map[string]any) bool {
	for _, t := range q.Terms {
		v, ok := doc[t.Field]
		if !ok || !matchesAny(v, t.Values) {
			return false
		}
	}
	for _, r := range q.Ranges {
		n, ok := asInt64(doc[r.Field])
		if !ok {
			return false
		}
		if r.Gte != nil && n < *r.Gte {
			return false
		}
		if r.Lte != nil && n > *r.Lte {
			return false
		}
	}
	return true
}

// MatchSource decodes a JSON document and matches it against q.
func (q Query) MatchSource(src json.RawMessage) (bool, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	return q.Match(doc), nil
}

func matchesAny(v any, values []any) bool {
	for _, want := range values {
		if equalScalar(v, want) {
			return true
		}
	}
	return false
}

func equalScalar(a, b any) bool {
	if an, ok := asInt64(a); ok {
		bn, ok := asInt64(b)
		return ok && an == bn
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Int64 is a helper for building Range bounds.
func Int64(v int64) *int64 {
	return &v
}
