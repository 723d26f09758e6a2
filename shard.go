package tablecache

import (
	"context"
	"fmt"

	"tablecache/docstore"

	"github.com/redis/go-redis/v9"
)

// Shard is the pair of store handles one DAL call runs against.
type Shard struct {
	Docs  docstore.Store
	Redis redis.UniversalClient
}

// ShardSelector resolves the shard for a call. It is consulted once per
// operation with the operation's context.
type ShardSelector interface {
	Select(ctx context.Context) (Shard, error)
}

// ShardFunc adapts a function to ShardSelector.
type ShardFunc func(ctx context.Context) (Shard, error)

// Select implements ShardSelector.
func (f ShardFunc) Select(ctx context.Context) (Shard, error) {
	return f(ctx)
}

// StaticShard always resolves to the same shard.
type StaticShard Shard

// Select implements ShardSelector.
func (s StaticShard) Select(context.Context) (Shard, error) {
	return Shard(s), nil
}

type shardKey struct{}

// WithShardIndex returns a context that routes calls to shard index of a
// ShardPool.
func WithShardIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, shardKey{}, index)
}

// ShardIndex returns the shard index carried by ctx.
func ShardIndex(ctx context.Context) (int, bool) {
	index, ok := ctx.Value(shardKey{}).(int)
	return index, ok
}

// ShardPool selects one of several shards by the index carried in the context.
// Calls without an index use shard 0.
type ShardPool []Shard

// Select implements ShardSelector.
func (p ShardPool) Select(ctx context.Context) (Shard, error) {
	if len(p) == 0 {
		return Shard{}, ErrNoShard
	}
	index, _ := ShardIndex(ctx)
	if index < 0 || index >= len(p) {
		return Shard{}, fmt.Errorf("shard %d of %d: %w", index, len(p), ErrNoShard)
	}
	return p[index], nil
}
