package tablecache

import (
	"time"

	"tablecache/docstore"
	"tablecache/keyword"
	"tablecache/metrics"
	"tablecache/pubsub"

	"go.uber.org/zap"
)

// Default TTLs of the read paths.
const (
	FindOneTTL      = time.Hour
	FindTTL         = 12 * time.Hour
	HashTTL         = 12 * time.Hour
	PageTTL         = 12 * time.Hour
	PageDocumentTTL = 5 * time.Minute
)

// Option configures a DAL.
type Option func(*DAL)

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *DAL) {
		d.logger = logger
	}
}

// WithMetrics adds a collector that receives every operation timing in
// addition to the DAL's own Stats.
func WithMetrics(c metrics.Collector) Option {
	return func(d *DAL) {
		d.collector = c
	}
}

// WithDebug enables debug logging of keys, queries and results.
func WithDebug(debug bool) Option {
	return func(d *DAL) {
		d.debug = debug
	}
}

// WithPubSub enables the publish/subscribe passthrough.
func WithPubSub(ps *pubsub.PubSub) Option {
	return func(d *DAL) {
		d.pubsub = ps
	}
}

// WithFaultHandler registers fn to observe every swallowed fault. err is a
// *cache.Fault for cache faults and a *StoreError for document store faults.
func WithFaultHandler(fn func(op string, err error)) Option {
	return func(d *DAL) {
		d.onFault = fn
	}
}

// callOptions are the per-call settings of a DAL operation.
type callOptions struct {
	prefix        string
	cache         bool
	ttl           time.Duration
	sort          docstore.Sort
	limit         int64
	criteria      docstore.Document
	keyword       keyword.Keyword
	keywordPrefix string
	pack          bool
	multi         bool
	upsert        bool
	reload        bool
}

// CallOption adjusts a single DAL operation.
type CallOption func(*callOptions)

func newCallOptions(ttl time.Duration, opts []CallOption) *callOptions {
	o := &callOptions{
		cache:  true,
		ttl:    ttl,
		pack:   true,
		upsert: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithPrefix sets the key prefix that separates caches of the same table.
func WithPrefix(prefix string) CallOption {
	return func(o *callOptions) {
		o.prefix = prefix
	}
}

// WithoutCache bypasses the cache: reads go straight to the store and writes
// skip invalidation of the exact keys. Keyword invalidation still runs.
func WithoutCache() CallOption {
	return func(o *callOptions) {
		o.cache = false
	}
}

// WithTTL overrides the operation's default TTL. 0 leaves the entry without expiry.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = ttl
	}
}

// WithSort orders results; the sort is part of the cache key.
func WithSort(fields ...docstore.SortField) CallOption {
	return func(o *callOptions) {
		o.sort = fields
	}
}

// WithLimit caps the number of results; the limit is part of the cache key.
func WithLimit(limit int64) CallOption {
	return func(o *callOptions) {
		o.limit = limit
	}
}

// WithCriteria sets the projection; it is part of the cache key.
func WithCriteria(criteria docstore.Document) CallOption {
	return func(o *callOptions) {
		o.criteria = criteria
	}
}

// WithKeyword tags populated entries under kw on reads and invalidates kw on
// writes. Keyword elements naming a field of the call's query resolve to that
// field's value on both sides.
func WithKeyword(kw keyword.Keyword) CallOption {
	return func(o *callOptions) {
		o.keyword = kw
	}
}

// WithKeywordPrefix prefixes the keyword keys of WithKeyword.
func WithKeywordPrefix(prefix string) CallOption {
	return func(o *callOptions) {
		o.keywordPrefix = prefix
	}
}

// WithPack selects the packed (msgpack) or JSON string representation.
func WithPack(pack bool) CallOption {
	return func(o *callOptions) {
		o.pack = pack
	}
}

// WithMulti makes Update modify every matching document.
func WithMulti() CallOption {
	return func(o *callOptions) {
		o.multi = true
	}
}

// WithUpsert controls whether Update creates a missing document. Defaults to true.
func WithUpsert(upsert bool) CallOption {
	return func(o *callOptions) {
		o.upsert = upsert
	}
}

// WithReload makes the hash helpers ignore the cached copy and reload from the store.
func WithReload() CallOption {
	return func(o *callOptions) {
		o.reload = true
	}
}
