package feed

import (
	"strconv"
	"strings"
)

// ── Value flattener ────────────────────────────────────────
// Converts a nested attribute tree into a flat namespaced map.
// Dispatch is a type switch over the JSON value kinds (nil, bool,
// float64, string, []any, map[string]any) — the only shapes
// encoding/json produces for schema-less input.

// defaultCoerceSubstrings are the normalized-key fragments that mark a
// textual scalar as a decimal number.
var defaultCoerceSubstrings = []string{"amount", "price"}

// Flattener holds flattening policy. The zero value uses the default
// amount/price coercion set.
type Flattener struct {
	// CoerceSubstrings: a scalar whose normalized key contains any of
	// these fragments is coerced from text to float64. Coercion failure
	// drops the value instead of propagating an error.
	CoerceSubstrings []string
}

// Flatten recursively flattens tree under the given key prefix.
// Guarantees on the result: every key is normalizer-clean and no key
// maps to an empty value.
func (f *Flattener) Flatten(tree map[string]any, prefix string) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		key = NormalizeKey(key)

		switch val := v.(type) {
		case map[string]any:
			// Nested subtree: recurse under the composed prefix. An empty
			// result contributes nothing — no namespace key is emitted.
			for fk, fv := range f.Flatten(val, key) {
				if !IsEmptyValue(fv) {
					out[fk] = fv
				}
			}
		case RawRecord:
			for fk, fv := range f.Flatten(val, key) {
				if !IsEmptyValue(fv) {
					out[fk] = fv
				}
			}
		case []any:
			if len(val) == 0 {
				continue
			}
			if _, ok := asMap(val[0]); ok {
				f.transpose(out, key, val)
			} else {
				out[key] = val
			}
		default:
			if s, ok := v.(string); ok && f.shouldCoerce(key) {
				v = coerceFloat(s)
			}
			if !IsEmptyValue(v) {
				out[key] = v
			}
		}
	}
	return out
}

// transpose restructures an array of maps into one array attribute per
// distinct field name: the non-empty values of each field collected
// across all elements, in element order. Elements missing a field
// contribute nothing to that field's array.
func (f *Flattener) transpose(out map[string]any, key string, elems []any) {
	grouped := make(map[string][]any)
	for _, e := range elems {
		m, ok := asMap(e)
		if !ok {
			continue
		}
		for fk, fv := range m {
			if !IsEmptyValue(fv) {
				grouped[fk] = append(grouped[fk], fv)
			}
		}
	}
	for fk, values := range grouped {
		if len(values) > 0 {
			out[NormalizeKey(key+"_"+fk)] = values
		}
	}
}

// shouldCoerce matches case-sensitively: "sv_price" is coerced,
// "sv_compareAtPrice" is not — compare-at prices are converted later by
// the pricing derivation, which needs to distinguish absent from zero.
func (f *Flattener) shouldCoerce(normalizedKey string) bool {
	subs := f.CoerceSubstrings
	if subs == nil {
		subs = defaultCoerceSubstrings
	}
	for _, s := range subs {
		if s != "" && strings.Contains(normalizedKey, s) {
			return true
		}
	}
	return false
}

// Flatten applies the default policy.
func Flatten(tree map[string]any, prefix string) map[string]any {
	var f Flattener
	return f.Flatten(tree, prefix)
}

// coerceFloat parses a textual decimal. Failure yields nil, which the
// empty-value strip then drops.
func coerceFloat(s string) any {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return v
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case RawRecord:
		return m, true
	default:
		return nil, false
	}
}

