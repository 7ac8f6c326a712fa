package feed

import "strings"

// ── Raw records ────────────────────────────────────────────
// One line of a bulk operation export: a self-describing JSON object
// carrying a global "id" and, for nested objects, a "__parentId"
// pointing at the owning record's id.
//
// Pattern: Shopify Bulk Operation JSONL / Airbyte record protocol.

// RawRecord is a single parsed export line, kept schema-less on purpose:
// the export mixes products, variants, metafields, collections and
// translation rows in one stream.
type RawRecord map[string]any

// ID returns the record's global identifier, or "" if absent.
func (r RawRecord) ID() string {
	id, _ := r["id"].(string)
	return id
}

// ParentID returns the record's parent reference, or "" for root records.
func (r RawRecord) ParentID() string {
	pid, _ := r["__parentId"].(string)
	return pid
}

// Copy returns a shallow copy. Used before mutating records that may be
// shared between parents (collections attached to several products).
func (r RawRecord) Copy() RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// GIDTail extracts the trailing numeric id from a typed resource
// identifier like "gid://shopify/ProductVariant/999". Values that do not
// look like a GID are returned unchanged.
func GIDTail(gid string) string {
	if !strings.Contains(gid, "gid://") {
		return gid
	}
	if i := strings.LastIndex(gid, "/"); i >= 0 {
		return gid[i+1:]
	}
	return gid
}

// IsEmptyValue reports whether a value must be stripped from output maps:
// nil, whitespace-only text, or an empty array/map. Booleans and zero
// numbers are never empty.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case RawRecord:
		return len(t) == 0
	default:
		return false
	}
}
