// Package tablecache is a caching data access layer over MongoDB and Redis.
//
// A DAL reads documents through a Redis cache and keeps the cache coherent with
// lazy invalidation: reads populate the cache on a miss, writes mutate the
// document store first and then delete the affected cache entries. Entries can
// also be tagged under keywords so a writer can invalidate every entry derived
// from a logical group at once, and paginated listings are served from sorted-set
// snapshots of ordered identifiers.
//
// Store and cache faults never reach the caller: reads report "not found" (a nil
// result) and writes report false. The only errors DAL operations return are
// configuration faults such as ErrNoShard. Use WithFaultHandler to observe the
// swallowed faults.
//
// Basic usage example:
//
//	dal, err := tablecache.New(tablecache.StaticShard{
//	    Docs:  docstore.NewMongoStore(client.Database("game")),
//	    Redis: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	})
//
//	item, err := dal.FindOne(ctx, "items", docstore.Document{"id": 42})
//	ok, err := dal.Update(ctx, "items", docstore.Document{"id": 42},
//	    docstore.Document{"$set": map[string]any{"name": "gadget"}})
package tablecache

import (
	"context"
	"errors"
	"fmt"

	"tablecache/cache"
	"tablecache/core"
	"tablecache/docstore"
	"tablecache/keys"
	"tablecache/keyword"
	"tablecache/metrics"
	"tablecache/pubsub"

	"go.uber.org/zap"
)

// DAL is the caching data access façade.
type DAL struct {
	selector  ShardSelector
	logger    *zap.Logger
	stats     *metrics.Stats
	collector metrics.Collector
	debug     bool
	pubsub    *pubsub.PubSub
	onFault   func(op string, err error)
}

// New creates a DAL that resolves its store handles through selector.
func New(selector ShardSelector, opts ...Option) (*DAL, error) {
	if selector == nil {
		return nil, ErrNoShard
	}

	d := &DAL{
		selector: selector,
		stats:    metrics.NewStats(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = core.LoggerOrDefault(d.logger)

	return d, nil
}

// handles are the per-call store handles.
type handles struct {
	docs  docstore.Store
	cache *cache.Store
	index *keyword.Index
}

func (d *DAL) metrics() metrics.Collector {
	if d.collector == nil {
		return d.stats
	}
	return metrics.Fanout{d.stats, d.collector}
}

func (d *DAL) resolve(ctx context.Context) (*handles, error) {
	shard, err := d.selector.Select(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoShard) {
			err = fmt.Errorf("%w: %v", ErrNoShard, err)
		}
		d.logger.Error("failed to resolve shard", zap.Error(err))
		return nil, err
	}
	if shard.Docs == nil || shard.Redis == nil {
		d.logger.Error("shard resolved a nil store",
			zap.Bool("docs", shard.Docs != nil),
			zap.Bool("redis", shard.Redis != nil))
		return nil, ErrNilStore
	}

	store := cache.NewStore(shard.Redis, &cache.Options{
		Debug:   d.debug,
		Logger:  d.logger,
		Metrics: d.metrics(),
	})
	return &handles{
		docs:  shard.Docs,
		cache: store,
		index: keyword.NewIndex(store, d.logger),
	}, nil
}

func (d *DAL) track(op string) func() {
	return metrics.Track(d.metrics(), metrics.ScopeDAL, op)
}

// fault reports a swallowed fault. Cache misses are not faults.
func (d *DAL) fault(op string, err error) {
	if err == nil || cache.IsMiss(err) {
		return
	}
	if d.onFault != nil {
		d.onFault(op, err)
	}
}

func (d *DAL) storeFault(op, table string, err error) error {
	serr := &StoreError{Op: op, Table: table, Err: err}
	d.logger.Error("document store fault",
		zap.String("op", op),
		zap.String("table", table),
		zap.Error(err))
	d.fault(op, serr)
	return serr
}

func (d *DAL) logDebug(msg string, fields ...zap.Field) {
	if d.debug {
		d.logger.Debug(msg, fields...)
	}
}

func findOnePrefix(prefix string) string {
	if prefix == "" {
		return "find_one"
	}
	return prefix + "_find_one"
}

// tag registers key under the call's keyword. Failures are reported but never
// fail the read.
func (d *DAL) tag(ctx context.Context, h *handles, op, key string, query docstore.Document, o *callOptions) {
	if o.keyword == nil {
		return
	}
	if _, err := h.index.Tag(ctx, key, query, o.keyword, o.keywordPrefix); err != nil {
		d.fault(op, err)
	}
}

// FindOne returns the first document of table matching query, or nil when none
// matches or a fault occurred. Results are cached under the "find_one" prefix
// for FindOneTTL by default.
func (d *DAL) FindOne(ctx context.Context, table string, query docstore.Document, opts ...CallOption) (docstore.Document, error) {
	defer d.track("find_one")()

	h, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(FindOneTTL, opts)
	doc, _, _ := d.findOne(ctx, h, table, query, o)
	return doc, nil
}

// findOne is FindOne with the cache key and the fault surfaced.
func (d *DAL) findOne(ctx context.Context, h *handles, table string, query docstore.Document, o *callOptions) (docstore.Document, string, error) {
	p := keys.Params{
		Table:    table,
		Prefix:   findOnePrefix(o.prefix),
		Query:    query,
		Criteria: o.criteria,
		Pack:     o.pack,
	}
	key := keys.Build(p)

	if o.cache {
		cached, err := h.cache.ReadByType(ctx, cache.TypeString, p, "")
		if err == nil {
			if doc, ok := asDocument(cached); ok {
				d.logDebug("Dal.find_one cache hit", zap.String("key", key))
				return doc, key, nil
			}
		}
		d.fault("find_one", err)
	}

	doc, err := h.docs.FindOne(ctx, table, query, o.criteria)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, key, nil
	}
	if err != nil {
		return nil, key, d.storeFault("find_one", table, err)
	}
	doc = docstore.NormalizeDocument(doc)

	if o.cache {
		if _, err := h.cache.WriteByType(ctx, cache.TypeString, p, "", doc, o.ttl); err != nil {
			d.fault("find_one", err)
		}
		d.tag(ctx, h, "find_one", key, query, o)
	}
	d.logDebug("Dal.find_one", zap.String("table", table), zap.String("key", key))
	return doc, key, nil
}

// Find returns the documents of table matching query.
//
// Deprecated: Find strips fields after the query instead of projecting, and
// its cache key ignores the criteria. Use NFind.
//
// Criteria default to {"_id": 0}: a positive _id flag keeps identifiers as
// strings, otherwise they are removed; every other field flagged below 1 is
// removed from the results.
func (d *DAL) Find(ctx context.Context, table string, query docstore.Document, opts ...CallOption) ([]docstore.Document, error) {
	defer d.track("find")()

	h, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(FindTTL, opts)
	criteria := o.criteria
	if criteria == nil {
		criteria = docstore.Document{docstore.IDField: 0}
	}

	p := keys.Params{
		Table:  table,
		Prefix: o.prefix,
		Query:  query,
		Sort:   o.sort.Elements(),
		Limit:  o.limit,
		Pack:   true,
	}

	if o.cache {
		cached, err := h.cache.ReadByType(ctx, cache.TypeString, p, "")
		if err == nil {
			if docs, ok := asDocuments(cached); ok {
				return docs, nil
			}
		}
		d.fault("find", err)
	}

	docs, err := h.docs.Find(ctx, table, query, &docstore.FindOptions{Sort: o.sort, Limit: o.limit})
	if err != nil {
		d.storeFault("find", table, err)
		return nil, nil
	}
	docs = stripFields(docs, criteria)
	if docs == nil {
		docs = []docstore.Document{}
	}

	if o.cache {
		key, err := h.cache.WriteByType(ctx, cache.TypeString, p, "", docs, o.ttl)
		if err != nil {
			d.fault("find", err)
		}
		d.tag(ctx, h, "find", key, query, o)
	}
	return docs, nil
}

// stripFields applies the criteria of the deprecated Find to docs.
func stripFields(docs []docstore.Document, criteria docstore.Document) []docstore.Document {
	idFlag, _ := docstore.Float(criteria[docstore.IDField])
	for _, doc := range docs {
		if idFlag > 0 {
			docstore.NormalizeDocument(doc)
		} else {
			delete(doc, docstore.IDField)
		}
		for field, flag := range criteria {
			if field == docstore.IDField {
				continue
			}
			if f, ok := docstore.Float(flag); ok && f < 1 {
				delete(doc, field)
			}
		}
	}
	return docs
}

// NFind returns the documents of table matching query, projected by the
// criteria, sorted and limited. The whole result is cached as one entry for
// FindTTL by default.
func (d *DAL) NFind(ctx context.Context, table string, query docstore.Document, opts ...CallOption) ([]docstore.Document, error) {
	defer d.track("nfind")()

	h, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(FindTTL, opts)

	p := keys.Params{
		Table:    table,
		Prefix:   o.prefix,
		Query:    query,
		Sort:     o.sort.Elements(),
		Criteria: o.criteria,
		Limit:    o.limit,
		Pack:     o.pack,
	}

	if o.cache {
		cached, err := h.cache.ReadByType(ctx, cache.TypeString, p, "")
		if err == nil {
			if docs, ok := asDocuments(cached); ok {
				return docs, nil
			}
		}
		d.fault("nfind", err)
	}

	docs, err := h.docs.Find(ctx, table, query, &docstore.FindOptions{
		Projection: o.criteria,
		Sort:       o.sort,
		Limit:      o.limit,
	})
	if err != nil {
		d.storeFault("nfind", table, err)
		return nil, nil
	}
	for _, doc := range docs {
		docstore.NormalizeDocument(doc)
	}
	if docs == nil {
		docs = []docstore.Document{}
	}

	if o.cache {
		key, err := h.cache.WriteByType(ctx, cache.TypeString, p, "", docs, o.ttl)
		if err != nil {
			d.fault("nfind", err)
		}
		d.tag(ctx, h, "nfind", key, query, o)
	}
	return docs, nil
}

// Update applies value to the documents of table matching query, then deletes
// the cached results of query and invalidates the call's keyword. Upsert is on
// by default.
func (d *DAL) Update(ctx context.Context, table string, query, value docstore.Document, opts ...CallOption) (bool, error) {
	defer d.track("update")()

	h, err := d.resolve(ctx)
	if err != nil {
		return false, err
	}
	o := newCallOptions(0, opts)

	if err := h.docs.Update(ctx, table, query, value, o.multi, o.upsert); err != nil {
		d.storeFault("update", table, err)
		return false, nil
	}
	d.logDebug("Dal.update", zap.String("table", table), zap.Any("query", query))

	d.invalidate(ctx, h, "update", table, query, query, o)
	return true, nil
}

// Insert stores value in table, then deletes the table-wide cached results of
// the call's prefix and invalidates the call's keyword, resolved against the
// inserted document.
func (d *DAL) Insert(ctx context.Context, table string, value docstore.Document, opts ...CallOption) (bool, error) {
	defer d.track("insert")()

	h, err := d.resolve(ctx)
	if err != nil {
		return false, err
	}
	o := newCallOptions(0, opts)

	id, err := h.docs.Insert(ctx, table, value)
	if err != nil {
		d.storeFault("insert", table, err)
		return false, nil
	}
	d.logDebug("Dal.insert", zap.String("table", table), zap.Any("id", docstore.NormalizeID(id)))

	d.invalidate(ctx, h, "insert", table, nil, value, o)
	return true, nil
}

// InsertIfAbsent upserts value into the first document matching query, then
// deletes both the table-wide and the query's cached results.
func (d *DAL) InsertIfAbsent(ctx context.Context, table string, query, value docstore.Document, opts ...CallOption) (bool, error) {
	defer d.track("insert_if_absent")()

	h, err := d.resolve(ctx)
	if err != nil {
		return false, err
	}
	o := newCallOptions(0, opts)

	if err := h.docs.Update(ctx, table, query, value, false, true); err != nil {
		d.storeFault("insert_if_absent", table, err)
		return false, nil
	}

	d.invalidate(ctx, h, "insert_if_absent", table, nil, query, o)
	if len(query) > 0 {
		d.invalidate(ctx, h, "insert_if_absent", table, query, nil, &callOptions{cache: o.cache, prefix: o.prefix})
	}
	return true, nil
}

// Delete removes the documents of table matching query, then deletes the
// cached results of query and invalidates the call's keyword.
func (d *DAL) Delete(ctx context.Context, table string, query docstore.Document, opts ...CallOption) (bool, error) {
	defer d.track("delete")()

	h, err := d.resolve(ctx)
	if err != nil {
		return false, err
	}
	o := newCallOptions(0, opts)

	if err := h.docs.Remove(ctx, table, query); err != nil {
		d.storeFault("delete", table, err)
		return false, nil
	}

	d.invalidate(ctx, h, "delete", table, query, query, o)
	return true, nil
}

// invalidate deletes the string-cache entries of (table, prefix, query) in both
// packing modes, including the FindOne entries, then invalidates the keyword
// resolved against kwQuery. Failures leave stale entries until their TTL
// expires.
func (d *DAL) invalidate(ctx context.Context, h *handles, op, table string, query, kwQuery docstore.Document, o *callOptions) {
	if o.cache {
		var stale []string
		for _, prefix := range []string{o.prefix, findOnePrefix(o.prefix)} {
			for _, pack := range []bool{true, false} {
				stale = append(stale, keys.Build(keys.Params{
					Table:  table,
					Prefix: prefix,
					Query:  query,
					Pack:   pack,
				}))
			}
		}
		if err := h.cache.DeleteMany(ctx, stale...); err != nil {
			d.fault(op, err)
		}
	}

	if o.keyword != nil {
		if err := h.index.Invalidate(ctx, o.keyword, kwQuery, o.keywordPrefix); err != nil {
			d.fault(op, err)
		}
	}
}

// ClearCache deletes the string-cache entries of (table, prefix, query),
// including the FindOne entries.
func (d *DAL) ClearCache(ctx context.Context, table string, query docstore.Document, opts ...CallOption) error {
	defer d.track("clear_cache")()

	h, err := d.resolve(ctx)
	if err != nil {
		return err
	}
	o := newCallOptions(0, opts)
	o.cache = true
	o.keyword = nil
	d.invalidate(ctx, h, "clear_cache", table, query, nil, o)
	return nil
}

// ClearCachesByKeys deletes every cache entry whose key starts with the key of
// (table, prefix, query) without its packing suffix, and returns how many were
// deleted. It scans the keyspace and is meant for maintenance.
func (d *DAL) ClearCachesByKeys(ctx context.Context, table string, query docstore.Document, opts ...CallOption) (int, error) {
	defer d.track("clear_caches_by_keys")()

	h, err := d.resolve(ctx)
	if err != nil {
		return 0, err
	}
	o := newCallOptions(0, opts)

	key := keys.Build(keys.Params{Table: table, Prefix: o.prefix, Query: query, Pack: true})
	pattern := key[:len(key)-len("_$pack_1")] + "*"

	n, err := h.cache.ClearPattern(ctx, pattern)
	if err != nil {
		d.fault("clear_caches_by_keys", err)
		return 0, nil
	}
	return n, nil
}

// CacheKeyword tags key under kw for query.
func (d *DAL) CacheKeyword(ctx context.Context, key string, query docstore.Document, kw keyword.Keyword, prefix string) error {
	h, err := d.resolve(ctx)
	if err != nil {
		return err
	}
	if _, err := h.index.Tag(ctx, key, query, kw, prefix); err != nil {
		d.fault("cache_keyword", err)
	}
	return nil
}

// ClearKeywordCache deletes every entry tagged under the literal keyword keys of
// kw and the keyword keys themselves.
func (d *DAL) ClearKeywordCache(ctx context.Context, kw keyword.Keyword, prefix string) error {
	defer d.track("clear_kw_cache")()

	h, err := d.resolve(ctx)
	if err != nil {
		return err
	}
	if err := h.index.Invalidate(ctx, kw, nil, prefix); err != nil {
		d.fault("clear_kw_cache", err)
	}
	return nil
}

// Subscribe subscribes the configured PubSub to channels.
func (d *DAL) Subscribe(ctx context.Context, channels ...string) error {
	if d.pubsub == nil {
		return ErrNoPubSub
	}
	return d.pubsub.Subscribe(ctx, channels...)
}

// Publish publishes payload on channel and returns the number of receivers.
// The payload is packed unless WithPack(false) is given.
func (d *DAL) Publish(ctx context.Context, channel string, payload any, opts ...CallOption) (int64, error) {
	if d.pubsub == nil {
		return 0, ErrNoPubSub
	}
	return d.pubsub.Publish(ctx, channel, payload, newCallOptions(0, opts).pack)
}

// Listen blocks until the next pub/sub event. Message payloads are unpacked
// unless WithPack(false) is given.
func (d *DAL) Listen(ctx context.Context, opts ...CallOption) (*pubsub.Message, error) {
	if d.pubsub == nil {
		return nil, ErrNoPubSub
	}
	return d.pubsub.Listen(ctx, newCallOptions(0, opts).pack)
}

// Stats logs the operation statistics of the DAL and of its cache commands,
// passes every non-empty report to fn and resets the counters.
func (d *DAL) Stats(fn func(report string)) {
	for _, scope := range []string{metrics.ScopeDAL, metrics.ScopeRedis} {
		report := d.stats.Report(scope)
		if report == "" {
			continue
		}
		if fn != nil {
			fn(report)
		}
		d.logger.Info(report)
	}
}

func asDocument(v any) (docstore.Document, bool) {
	doc, ok := v.(map[string]any)
	return doc, ok
}

func asDocuments(v any) ([]docstore.Document, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	docs := make([]docstore.Document, 0, len(list))
	for _, item := range list {
		doc, ok := asDocument(item)
		if !ok {
			return nil, false
		}
		docs = append(docs, doc)
	}
	return docs, true
}
