// Package keys derives the deterministic cache keys used by every tablecache layer.
//
// A key is a flat string built from the namespace, the table, an optional prefix,
// the canonicalized query, the sort specification, the projection criteria, the
// limit and the packing mode:
//
//	tablecache_items_find_one_id_42_$pack_1
//	pagecache_items_state_open_$sort_score_-1_$pack_1
//
// Query and criteria pairs are rendered as field_value and sorted, so field order
// never changes the key. Segments are joined with "_" without escaping; two
// different queries whose rendered pairs concatenate to the same text collide.
// The format is kept stable so keys written by older deployments stay readable.
package keys

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// TableNamespace is the namespace of document and result caches.
	TableNamespace = "tablecache"

	// PageNamespace is the namespace of pagination snapshots.
	PageNamespace = "pagecache"
)

// Params holds everything that identifies one cached artifact.
type Params struct {
	// Namespace defaults to TableNamespace when empty.
	Namespace string
	Table     string
	Prefix    string
	Query     map[string]any
	// Sort is the flattened sort specification (field, direction, ...), rendered verbatim.
	Sort     []string
	Criteria map[string]any
	Limit    int64
	// Pack selects the packed (binary) representation.
	Pack bool
}

// Build returns the cache key for p.
func Build(p Params) string {
	namespace := p.Namespace
	if namespace == "" {
		namespace = TableNamespace
	}

	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte('_')
	b.WriteString(p.Table)

	if p.Prefix != "" {
		b.WriteByte('_')
		b.WriteString(p.Prefix)
	}

	if len(p.Query) > 0 {
		b.WriteByte('_')
		b.WriteString(pairs(p.Query))
	}

	if len(p.Sort) > 0 {
		b.WriteString("_$sort_")
		b.WriteString(strings.Join(p.Sort, "_"))
	}

	if len(p.Criteria) > 0 {
		b.WriteString("_$criteria_")
		b.WriteString(pairs(p.Criteria))
	}

	if p.Limit != 0 {
		b.WriteString("_$limit_")
		b.WriteString(strconv.FormatInt(p.Limit, 10))
	}

	if p.Pack {
		b.WriteString("_$pack_1")
	} else {
		b.WriteString("_$pack_0")
	}

	return b.String()
}

// Pattern returns a KEYS/SCAN glob matching every key that starts with Build(p).
func Pattern(p Params) string {
	return Build(p) + "*"
}

// WithPrefix appends "_prefix" to key when prefix is non-empty.
func WithPrefix(key, prefix string) string {
	if prefix == "" {
		return key
	}
	return key + "_" + prefix
}

// Value renders a single query value the way it appears inside a key.
func Value(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return val
	case []byte:
		return string(val)
	case interface{ Hex() string }:
		return val.Hex()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Fields renders m as sorted field_value pairs joined by "_", the form used for
// queries inside keys and for hash-cache field names.
func Fields(m map[string]any) string {
	return pairs(m)
}

func pairs(m map[string]any) string {
	rendered := make([]string, 0, len(m))
	for field, value := range m {
		rendered = append(rendered, field+"_"+Value(value))
	}
	sort.Strings(rendered)
	return strings.Join(rendered, "_")
}
