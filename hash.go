package tablecache

import (
	"context"
	"errors"
	"sort"

	"tablecache/cache"
	"tablecache/docstore"
	"tablecache/keys"
)

// The hash helpers cache documents of one table and prefix as JSON fields of a
// single Redis hash. The field of a document read by query is the rendered
// query, so many queries share one physical key and are invalidated together
// when it expires.

func hashParams(table, prefix string) keys.Params {
	return keys.Params{Table: table, Prefix: prefix}
}

// hashCriteria defaults the projection of the hash helpers to dropping _id.
func hashCriteria(o *callOptions) docstore.Document {
	if o.criteria == nil {
		return docstore.Document{docstore.IDField: 0}
	}
	return o.criteria
}

// HashGetOne returns the document of table matching query from the hash cache
// of the call's prefix, loading it from the store on a miss or with WithReload.
// Only documents that exist are cached.
func (d *DAL) HashGetOne(ctx context.Context, table string, query docstore.Document, opts ...CallOption) (docstore.Document, error) {
	defer d.track("hash_get_one")()

	h, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(HashTTL, opts)
	p := hashParams(table, o.prefix)
	field := keys.Fields(query)

	if o.cache && !o.reload {
		cached, err := h.cache.ReadByType(ctx, cache.TypeHash, p, field)
		if err == nil {
			if doc, ok := asDocument(cached); ok {
				return doc, nil
			}
		}
		d.fault("hash_get_one", err)
	}

	doc, err := h.docs.FindOne(ctx, table, query, hashCriteria(o))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		d.storeFault("hash_get_one", table, err)
		return nil, nil
	}
	doc = docstore.NormalizeDocument(doc)

	if o.cache {
		if _, err := h.cache.WriteByType(ctx, cache.TypeHash, p, field, doc, o.ttl); err != nil {
			d.fault("hash_get_one", err)
		}
	}
	return doc, nil
}

// HashSetOne applies value with $set to the document of table matching query,
// creating it when absent, then drops its field from the hash cache.
func (d *DAL) HashSetOne(ctx context.Context, table string, query, value docstore.Document, opts ...CallOption) (bool, error) {
	defer d.track("hash_set_one")()

	h, err := d.resolve(ctx)
	if err != nil {
		return false, err
	}
	o := newCallOptions(0, opts)

	update := docstore.Document{"$set": map[string]any(value)}
	if err := h.docs.Update(ctx, table, query, update, false, true); err != nil {
		d.storeFault("hash_set_one", table, err)
		return false, nil
	}

	if o.cache {
		if err := h.cache.HashDel(ctx, hashParams(table, o.prefix), keys.Fields(query)); err != nil {
			d.fault("hash_set_one", err)
		}
	}
	return true, nil
}

// HashDelOne removes the documents of table matching query and drops the
// query's field from the hash cache.
func (d *DAL) HashDelOne(ctx context.Context, table string, query docstore.Document, opts ...CallOption) (bool, error) {
	defer d.track("hash_del_one")()

	h, err := d.resolve(ctx)
	if err != nil {
		return false, err
	}
	o := newCallOptions(0, opts)

	if err := h.docs.Remove(ctx, table, query); err != nil {
		d.storeFault("hash_del_one", table, err)
		return false, nil
	}

	if err := h.cache.HashDel(ctx, hashParams(table, o.prefix), keys.Fields(query)); err != nil {
		d.fault("hash_del_one", err)
	}
	return true, nil
}

// HashGetAll returns every document of table matching query. Documents are
// cached in the hash of the call's prefix under the field rendered from
// {indexKey: value}; documents without indexKey are returned but not cached.
// A cached hash is returned as is, ordered by field. The hash is tagged under
// the call's keyword.
func (d *DAL) HashGetAll(ctx context.Context, table string, query docstore.Document, indexKey string, opts ...CallOption) ([]docstore.Document, error) {
	defer d.track("hash_get_all")()

	h, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(HashTTL, opts)
	p := hashParams(table, o.prefix)

	if o.cache && !o.reload {
		cached, err := h.cache.HashGetAll(ctx, p)
		if err == nil {
			if docs, ok := sortedHashValues(cached); ok {
				return docs, nil
			}
		}
		d.fault("hash_get_all", err)
	}

	docs, err := h.docs.Find(ctx, table, query, &docstore.FindOptions{Projection: hashCriteria(o)})
	if err != nil {
		d.storeFault("hash_get_all", table, err)
		return []docstore.Document{}, nil
	}

	result := make([]docstore.Document, 0, len(docs))
	for _, doc := range docs {
		doc = docstore.NormalizeDocument(doc)
		result = append(result, doc)

		if !o.cache {
			continue
		}
		index, ok := doc[indexKey]
		if !ok {
			continue
		}
		field := keys.Fields(map[string]any{indexKey: index})
		if _, err := h.cache.HashSet(ctx, p, field, doc, 0); err != nil {
			d.fault("hash_get_all", err)
		}
	}

	if o.cache {
		key := keys.Build(keys.Params{Table: table, Prefix: o.prefix})
		if o.ttl > 0 {
			if err := h.cache.Expire(ctx, key, o.ttl); err != nil {
				d.fault("hash_get_all", err)
			}
		}
		d.tag(ctx, h, "hash_get_all", key, nil, o)
	}
	return result, nil
}

func sortedHashValues(values map[string]any) ([]docstore.Document, bool) {
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	docs := make([]docstore.Document, 0, len(fields))
	for _, field := range fields {
		doc, ok := asDocument(values[field])
		if !ok {
			return nil, false
		}
		docs = append(docs, doc)
	}
	return docs, true
}
