package models

import (
	"reflect"
	"sort"
)

// Body is the editable profile content: a typed key-value document whose
// known fields are declared by Schema but which lets unknown/future keys pass
// through untouched, so schema evolution never drops data in flight.
type Body map[string]any

// Clone returns a deep copy. Nested maps and slices are copied so mutating
// the clone never aliases the original.
func (b Body) Clone() Body {
	if b == nil {
		return nil
	}
	out := make(Body, len(b))
	for k, v := range b {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Body:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Equal reports deep structural equality between two bodies.
func (b Body) Equal(other Body) bool {
	return len(DiffKeys(b, other)) == 0
}

// DiffKeys returns every key present in either body whose value differs
// under deep structural equality. When oldBody is absent this is all keys of
// newBody. The result is sorted so changed-field sets are deterministic.
func DiffKeys(newBody, oldBody Body) []string {
	keys := make(map[string]struct{}, len(newBody)+len(oldBody))
	for k := range newBody {
		keys[k] = struct{}{}
	}
	for k := range oldBody {
		keys[k] = struct{}{}
	}

	changed := make([]string, 0, len(keys))
	for k := range keys {
		newVal, newOK := newBody[k]
		oldVal, oldOK := oldBody[k]
		if newOK != oldOK || !reflect.DeepEqual(normalize(newVal), normalize(oldVal)) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// normalize unwraps the Body alias so map[string]any and Body compare equal.
func normalize(v any) any {
	if b, ok := v.(Body); ok {
		return map[string]any(b)
	}
	return v
}

// UnionFields merges two changed-field sets, deduplicated and sorted.
func UnionFields(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
