package tablecache

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"tablecache/cache"
	"tablecache/docstore"
	"tablecache/keys"

	"go.uber.org/zap"
)

// PageResult is one page of a paginated listing.
type PageResult struct {
	// Items are the documents of the page that still exist.
	Items []docstore.Document
	// PageCount is the number of identifiers in the page, 0 for an empty page.
	PageCount int
	// CurrentCount is the length of the identifier slice served for the page.
	CurrentCount int
	// Total is the number of identifiers in the snapshot.
	Total int64
}

// rangeByPage returns the inclusive index range of page. A page or count of 0
// or less selects everything.
func rangeByPage(page, count int64) (int64, int64) {
	if page <= 0 || count <= 0 {
		return 0, -1
	}
	start := (page - 1) * count
	return start, start + count - 1
}

func pageParams(table string, query docstore.Document, o *callOptions) keys.Params {
	return keys.Params{
		Namespace: keys.PageNamespace,
		Table:     table,
		Prefix:    o.prefix,
		Query:     query,
		Sort:      o.sort.Elements(),
		Criteria:  o.criteria,
		Pack:      true,
	}
}

// LoadPageData rebuilds the pagination snapshot of (table, prefix, query, sort)
// and returns the identifiers in the order the snapshot serves them. Scores
// are the numeric value of the primary sort field, numeric strings included,
// and 0 when it is missing or not a number.
func (d *DAL) LoadPageData(ctx context.Context, table string, query docstore.Document, opts ...CallOption) ([]string, error) {
	defer d.track("load_page_data")()

	h, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(PageTTL, opts)
	ids, _ := d.loadPageData(ctx, h, table, query, o)
	return ids, nil
}

func (d *DAL) loadPageData(ctx context.Context, h *handles, table string, query docstore.Document, o *callOptions) ([]string, error) {
	key := keys.Build(pageParams(table, query, o))

	projection := docstore.Document{docstore.IDField: 1}
	var scoreField string
	if len(o.sort) > 0 {
		scoreField = o.sort[0].Field
		projection[scoreField] = 1
	}

	docs, err := h.docs.Find(ctx, table, query, &docstore.FindOptions{
		Projection: projection,
		Sort:       o.sort,
	})
	if err != nil {
		return nil, d.storeFault("load_page_data", table, err)
	}

	members := make([]cache.ScoredMember, 0, len(docs))
	for _, doc := range docs {
		id := keys.Value(docstore.NormalizeID(doc[docstore.IDField]))
		var score float64
		if scoreField != "" {
			score = pageScore(doc[scoreField])
		}
		members = append(members, cache.ScoredMember{Member: id, Score: score})
	}
	ids := snapshotOrder(members, o.sort.Descending())

	if err := h.cache.PipelineZAdd(ctx, key, members); err != nil {
		d.fault("load_page_data", err)
		return ids, err
	}
	if o.ttl > 0 && len(members) > 0 {
		if err := h.cache.Expire(ctx, key, o.ttl); err != nil {
			d.fault("load_page_data", err)
		}
	}
	d.tag(ctx, h, "load_page_data", key, query, o)

	d.logDebug("Dal.load_page_data", zap.String("key", key), zap.Int("ids", len(ids)))
	return ids, nil
}

// pageScore converts a sort value to a snapshot score.
func pageScore(v any) float64 {
	if f, ok := docstore.Float(v); ok && !math.IsNaN(f) {
		return f
	}
	if str, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil && !math.IsNaN(f) {
			return f
		}
	}
	return 0
}

// snapshotOrder sorts members the way ZRANGE serves them, by score then by
// member bytes, reversed for ZREVRANGE, and returns the members.
func snapshotOrder(members []cache.ScoredMember, descending bool) []string {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})

	ids := make([]string, len(members))
	for i, m := range members {
		if descending {
			ids[len(members)-1-i] = m.Member
		} else {
			ids[i] = m.Member
		}
	}
	return ids
}

// FindByPage returns page of the listing of (table, prefix, query, sort) with
// count items per page. Identifiers come from the pagination snapshot, which
// is rebuilt when absent; documents are read through FindOne with
// PageDocumentTTL and tagged under the call's keyword. A page of 0 or less, or
// a count of 0 or less, returns the whole listing.
func (d *DAL) FindByPage(ctx context.Context, table string, query docstore.Document, page, count int64, opts ...CallOption) (*PageResult, error) {
	defer d.track("find_by_page")()

	h, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(PageTTL, opts)
	result := &PageResult{Items: []docstore.Document{}}

	ids, total, err := d.pageIDs(ctx, h, table, query, page, count, o)
	if err != nil {
		return result, nil
	}
	result.Total = total
	result.CurrentCount = len(ids)
	if len(ids) == 0 {
		return result, nil
	}
	result.PageCount = len(ids)

	item := &callOptions{
		cache:         true,
		ttl:           PageDocumentTTL,
		criteria:      o.criteria,
		pack:          true,
		keyword:       o.keyword,
		keywordPrefix: o.keywordPrefix,
	}
	for _, id := range ids {
		doc, _, err := d.findOne(ctx, h, table, docstore.Document{docstore.IDField: id}, item)
		if err != nil || doc == nil {
			continue
		}
		result.Items = append(result.Items, doc)
	}
	return result, nil
}

// pageIDs returns the identifiers of page and the snapshot size.
func (d *DAL) pageIDs(ctx context.Context, h *handles, table string, query docstore.Document, page, count int64, o *callOptions) ([]string, int64, error) {
	key := keys.Build(pageParams(table, query, o))
	start, stop := rangeByPage(page, count)

	exists, err := h.cache.Exists(ctx, key)
	if err != nil {
		d.fault("find_by_page", err)
	}

	if exists {
		total, err := h.cache.ZCard(ctx, key)
		if err != nil {
			d.fault("find_by_page", err)
			return nil, 0, err
		}

		var ids []string
		if o.sort.Descending() {
			ids, err = h.cache.ZRevRange(ctx, key, start, stop)
		} else {
			ids, err = h.cache.ZRange(ctx, key, start, stop)
		}
		if err != nil {
			d.fault("find_by_page", err)
			return nil, 0, err
		}
		return ids, total, nil
	}

	ids, err := d.loadPageData(ctx, h, table, query, o)
	if err != nil && ids == nil {
		return nil, 0, err
	}
	total := int64(len(ids))

	if page <= 0 || count <= 0 {
		return ids, total, nil
	}
	if start >= total {
		return []string{}, total, nil
	}
	end := stop + 1
	if end > total {
		end = total
	}
	return ids[start:end], total, nil
}
