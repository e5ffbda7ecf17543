// Package jsonval compares generic JSON values the way the stored documents
// hold them: nil, bool, float64 and string. The memory adapter's predicate
// evaluator and the document adapter's client-side ordering share it so both
// backends order heterogeneous values identically.
package jsonval

import (
	"encoding/json"
	"strings"

	"itemstore/item"
)

// Get decodes a stored field into its generic JSON form. The second return
// reports field presence; absent fields decode to nil.
func Get(doc item.Document, field string) (any, bool) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return nil, ok
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, true
	}
	return v, true
}

// Normalize maps a builder-supplied constant through a JSON round trip so
// comparisons see the same shapes the store holds.
func Normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// rank orders heterogeneous values deterministically:
// missing/null < bool < number < string < other.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// Compare returns -1, 0 or 1 for generic JSON values.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	default:
		return 0
	}
}

// IsLive reports whether the document is not a tombstone.
func IsLive(doc item.Document) bool {
	v, _ := Get(doc, "isDeleted")
	deleted, ok := v.(bool)
	return !ok || !deleted
}

// String returns the document field as a string, or "" when it is not one.
func String(doc item.Document, field string) string {
	v, _ := Get(doc, field)
	s, _ := v.(string)
	return s
}
