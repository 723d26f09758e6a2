package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore implements Store in process. Queries support equality on
// top-level and dotted fields plus the $in, $ne, $gt, $gte, $lt and $lte
// operators; updates support $set, $inc, $unset and replacement documents.
// Documents are deep-copied in and out.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	closed      bool

	// Calls counts every Find and FindOne; tests use it to observe cache hits.
	calls atomic.Int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Document)}
}

// Reads returns how many Find and FindOne calls the store served.
func (s *MemoryStore) Reads() int64 {
	return s.calls.Load()
}

// Close makes every later call fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, collection string, query Document, opts *FindOptions) ([]Document, error) {
	s.calls.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var matched []Document
	for _, doc := range s.collections[collection] {
		if matches(doc, query) {
			matched = append(matched, doc)
		}
	}

	if opts == nil {
		opts = &FindOptions{}
	}
	if len(opts.Sort) > 0 {
		sortDocuments(matched, opts.Sort)
	}
	if opts.Limit > 0 && int64(len(matched)) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]Document, 0, len(matched))
	for _, doc := range matched {
		out = append(out, project(clone(doc), opts.Projection))
	}
	return out, nil
}

// FindOne implements Store.
func (s *MemoryStore) FindOne(ctx context.Context, collection string, query, projection Document) (Document, error) {
	docs, err := s.Find(ctx, collection, query, &FindOptions{Projection: projection, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, collection string, query, update Document, multi, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	docs := s.collections[collection]
	updated := 0
	for i, doc := range docs {
		if !matches(doc, query) {
			continue
		}
		next, err := apply(doc, update)
		if err != nil {
			return err
		}
		docs[i] = next
		updated++
		if !multi {
			break
		}
	}

	if updated > 0 || !upsert {
		return nil
	}

	seed := Document{}
	for k, v := range query {
		if _, isOp := v.(map[string]any); !isOp && !strings.HasPrefix(k, "$") {
			seed[k] = v
		}
	}
	doc, err := apply(seed, update)
	if err != nil {
		return err
	}
	if _, ok := doc[IDField]; !ok {
		doc[IDField] = primitive.NewObjectID()
	}
	s.collections[collection] = append(docs, doc)
	return nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, collection string, doc Document) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	stored := clone(doc)
	if _, ok := stored[IDField]; !ok {
		stored[IDField] = primitive.NewObjectID()
	}
	id := stored[IDField]
	for _, existing := range s.collections[collection] {
		if equal(existing[IDField], id) {
			return nil, fmt.Errorf("duplicate key %v in %s", NormalizeID(id), collection)
		}
	}

	s.collections[collection] = append(s.collections[collection], stored)
	return id, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, collection string, query Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	kept := s.collections[collection][:0]
	for _, doc := range s.collections[collection] {
		if !matches(doc, query) {
			kept = append(kept, doc)
		}
	}
	s.collections[collection] = kept
	return nil
}

func clone(doc Document) Document {
	if doc == nil {
		return Document{}
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies nested documents and arrays. Other typed slices and
// maps are copied with copier; scalars, ObjectIDs and times are values already.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return clone(val)
	case primitive.M:
		return clone(Document(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case primitive.A:
		return cloneValue([]any(val))
	case nil, time.Time, primitive.ObjectID:
		return val
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Map {
		return v
	}
	dst := reflect.New(rv.Type())
	if err := copier.CopyWithOption(dst.Interface(), v, copier.Option{DeepCopy: true}); err != nil {
		return v
	}
	return dst.Elem().Interface()
}

func lookup(doc Document, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matches(doc, query Document) bool {
	for field, want := range query {
		got, present := lookup(doc, field)
		if ops, ok := want.(map[string]any); ok && isOperatorDocument(ops) {
			if !matchOperators(got, present, ops) {
				return false
			}
			continue
		}
		if !present || !equal(got, want) {
			return false
		}
	}
	return true
}

func matchOperators(got any, present bool, ops map[string]any) bool {
	for op, arg := range ops {
		switch op {
		case "$ne":
			if present && equal(got, arg) {
				return false
			}
		case "$in":
			if !present || !containsValue(arg, got) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false
			}
			c, ok := compare(got, arg)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				if c <= 0 {
					return false
				}
			case "$gte":
				if c < 0 {
					return false
				}
			case "$lt":
				if c >= 0 {
					return false
				}
			case "$lte":
				if c > 0 {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func containsValue(list, v any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(rv.Index(i).Interface(), v) {
			return true
		}
	}
	return false
}

// apply returns the result of applying update to a copy of doc.
func apply(doc, update Document) (Document, error) {
	if !isOperatorDocument(update) {
		next := clone(update)
		if id, ok := doc[IDField]; ok {
			next[IDField] = id
		}
		return next, nil
	}

	next := clone(doc)
	for op, arg := range update {
		fields, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("update operator %s expects a document", op)
		}
		switch op {
		case "$set":
			for k, v := range fields {
				next[k] = v
			}
		case "$unset":
			for k := range fields {
				delete(next, k)
			}
		case "$inc":
			for k, v := range fields {
				sum, err := increment(next[k], v)
				if err != nil {
					return nil, fmt.Errorf("$inc %s: %w", k, err)
				}
				next[k] = sum
			}
		default:
			return nil, fmt.Errorf("unsupported update operator %s", op)
		}
	}
	return next, nil
}

func increment(cur, delta any) (any, error) {
	if cur == nil {
		return delta, nil
	}
	ci, cInt := toInt64(cur)
	di, dInt := toInt64(delta)
	if cInt && dInt {
		return ci + di, nil
	}
	cf, cOk := toFloat(cur)
	df, dOk := toFloat(delta)
	if !cOk || !dOk {
		return nil, fmt.Errorf("cannot increment %T by %T", cur, delta)
	}
	return cf + df, nil
}

func project(doc, projection Document) Document {
	if len(projection) == 0 {
		return doc
	}

	include := false
	for field, v := range projection {
		if field != IDField && truthy(v) {
			include = true
			break
		}
	}

	if !include {
		for field, v := range projection {
			if !truthy(v) {
				delete(doc, field)
			}
		}
		return doc
	}

	out := Document{}
	for field, v := range projection {
		if truthy(v) {
			if val, ok := doc[field]; ok {
				out[field] = val
			}
		}
	}
	if v, ok := projection[IDField]; !ok || truthy(v) {
		if id, ok := doc[IDField]; ok {
			out[IDField] = id
		}
	}
	return out
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	default:
		f, ok := toFloat(v)
		return ok && f != 0
	}
}

func sortDocuments(docs []Document, spec Sort) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range spec {
			a, _ := lookup(docs[i], f.Field)
			b, _ := lookup(docs[j], f.Field)
			c, ok := compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if f.Direction < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two scalar values. Missing values sort first; ObjectIDs compare
// by their hex form so string and ObjectID identifiers are interchangeable.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}

	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt), true
		}
		return 0, false
	}

	as, aOk := scalarString(a)
	bs, bOk := scalarString(b)
	if aOk && bOk {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case primitive.ObjectID:
		return s.Hex(), true
	case bool:
		if s {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
