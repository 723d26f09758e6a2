// Package docstore defines the document store the data access layer caches.
//
// Store is implemented by MongoStore on top of the official MongoDB driver and by
// MemoryStore, an in-process store with the same query semantics for equality
// filters, used in tests and local tooling.
package docstore

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the identifier field of every document.
const IDField = "_id"

var (
	// ErrNotFound is returned when no document matches a query.
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// Document is a single stored document.
type Document = map[string]any

// SortField orders results by Field. Direction 1 is ascending, -1 descending.
type SortField struct {
	Field     string
	Direction int
}

// Sort is an ordered sort specification.
type Sort []SortField

// Elements flattens s into field, direction pairs as rendered in cache keys.
func (s Sort) Elements() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s)*2)
	for _, f := range s {
		dir := "1"
		if f.Direction < 0 {
			dir = "-1"
		}
		out = append(out, f.Field, dir)
	}
	return out
}

// Descending reports whether the primary sort field is descending.
func (s Sort) Descending() bool {
	return len(s) > 0 && s[0].Direction < 0
}

// FindOptions narrows a Find call.
type FindOptions struct {
	// Projection selects fields with 1 (include) or 0 (exclude).
	Projection Document
	Sort       Sort
	// Limit caps the result count; 0 means no limit.
	Limit int64
}

// Store is the document store contract.
type Store interface {
	// Find returns the documents of collection matching query.
	Find(ctx context.Context, collection string, query Document, opts *FindOptions) ([]Document, error)

	// FindOne returns the first document matching query or ErrNotFound.
	FindOne(ctx context.Context, collection string, query, projection Document) (Document, error)

	// Update applies update to the first (or every, when multi) matching document.
	// update is either an operator document ($set, $inc, $unset) or a replacement.
	// With upsert a missing document is created.
	Update(ctx context.Context, collection string, query, update Document, multi, upsert bool) error

	// Insert stores doc and returns its identifier. A missing _id is generated.
	Insert(ctx context.Context, collection string, doc Document) (any, error)

	// Remove deletes every document matching query.
	Remove(ctx context.Context, collection string, query Document) error
}

// NormalizeID returns v in the string form used by callers and cache members.
func NormalizeID(v any) any {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case *primitive.ObjectID:
		if id == nil {
			return nil
		}
		return id.Hex()
	default:
		return v
	}
}

// NormalizeDocument replaces the _id of doc with its string form in place.
func NormalizeDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	if id, ok := doc[IDField]; ok {
		doc[IDField] = NormalizeID(id)
	}
	return doc
}

// isOperatorDocument reports whether every top-level key of update is an operator.
func isOperatorDocument(update Document) bool {
	if len(update) == 0 {
		return false
	}
	for k := range update {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// Float returns v as a float64 when it holds a number.
func Float(v any) (float64, bool) {
	return toFloat(v)
}
