// Package keyword maintains the secondary index used for bulk cache invalidation.
//
// A keyword key is a Redis set whose members are cache keys. Reads that populate
// a cache entry tag it under one or more keyword keys; a write invalidates the
// keyword, which deletes every tagged entry together with the keyword key itself.
package keyword

import (
	"sort"

	"tablecache/keys"
)

// Keyword names the keyword keys a cache entry belongs to.
// It is one of Single, Multiple or FieldMap; a nil Keyword means "none".
type Keyword interface {
	resolve(query map[string]any, prefix string, substitute bool) []string
}

// Single is a single keyword.
type Single string

// Multiple is an ordered list of keywords.
type Multiple []string

// FieldMap maps field names to values; each pair becomes the keyword
// prefix + field_value.
type FieldMap map[string]string

func (s Single) resolve(query map[string]any, prefix string, substitute bool) []string {
	if s == "" {
		return nil
	}
	return []string{element(string(s), query, prefix, substitute)}
}

func (m Multiple) resolve(query map[string]any, prefix string, substitute bool) []string {
	out := make([]string, 0, len(m))
	for _, kw := range m {
		if kw == "" {
			continue
		}
		out = append(out, element(kw, query, prefix, substitute))
	}
	return out
}

func (f FieldMap) resolve(_ map[string]any, prefix string, _ bool) []string {
	out := make([]string, 0, len(f))
	for field, value := range f {
		out = append(out, prefix+field+"_"+value)
	}
	sort.Strings(out)
	return out
}

// element resolves one Single/Multiple keyword. When substitute is set and the
// keyword names a field of query, the field's value is used instead.
func element(kw string, query map[string]any, prefix string, substitute bool) string {
	if substitute {
		if v, ok := query[kw]; ok {
			return prefix + keys.Value(v)
		}
	}
	return prefix + kw
}

// Resolve returns the keyword keys of query: the keys a read with query is
// tagged under and a write with query invalidates.
func Resolve(kw Keyword, query map[string]any, prefix string) []string {
	if kw == nil {
		return nil
	}
	return kw.resolve(query, prefix, true)
}

// ResolveLiteral returns the keyword keys without query substitution.
func ResolveLiteral(kw Keyword, prefix string) []string {
	if kw == nil {
		return nil
	}
	return kw.resolve(nil, prefix, false)
}

// IsEmpty reports whether kw resolves to no keyword keys.
func IsEmpty(kw Keyword) bool {
	return len(ResolveLiteral(kw, "")) == 0
}
