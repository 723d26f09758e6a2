package keyword

import (
	"context"
	"time"

	"tablecache/cache"
	"tablecache/core"

	"go.uber.org/zap"
)

// DefaultTTL is the lifetime of a keyword key after its last tag.
const DefaultTTL = 24 * time.Hour

// Index tags cache keys under keyword keys and invalidates them in bulk.
type Index struct {
	store  *cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewIndex creates an Index on store. A nil logger uses the global logger.
func NewIndex(store *cache.Store, logger *zap.Logger) *Index {
	return &Index{
		store:  store,
		ttl:    DefaultTTL,
		logger: core.LoggerOrDefault(logger),
	}
}

// Tag adds cacheKey to every keyword key kw resolves to for query and refreshes
// their TTL. It returns the keyword keys that were written.
func (i *Index) Tag(ctx context.Context, cacheKey string, query map[string]any, kw Keyword, prefix string) ([]string, error) {
	kwKeys := Resolve(kw, query, prefix)

	tagged := make([]string, 0, len(kwKeys))
	for _, kwKey := range kwKeys {
		if err := i.store.SAdd(ctx, kwKey, cacheKey, false, i.ttl); err != nil {
			return tagged, err
		}
		tagged = append(tagged, kwKey)
	}
	return tagged, nil
}

// Invalidate deletes every cache key tagged under kw for query and the keyword
// keys themselves. Keywords resolve exactly as Tag resolves them, so a writer
// passing the reader's query and keyword reaches the same keyword keys. A nil
// query invalidates the literal keywords. Unknown keywords and a nil kw are
// no-ops.
func (i *Index) Invalidate(ctx context.Context, kw Keyword, query map[string]any, prefix string) error {
	for _, kwKey := range Resolve(kw, query, prefix) {
		members, err := i.store.SInter(ctx, kwKey)
		if err != nil {
			return err
		}

		if err := i.store.DeleteMany(ctx, append(members, kwKey)...); err != nil {
			return err
		}

		i.logger.Debug("keyword invalidated",
			zap.String("keyword", kwKey),
			zap.Int("members", len(members)))
	}
	return nil
}

// Members returns the cache keys currently tagged under kwKey.
func (i *Index) Members(ctx context.Context, kwKey string) ([]string, error) {
	return i.store.SInter(ctx, kwKey)
}
