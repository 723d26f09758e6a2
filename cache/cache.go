// Package cache provides typed, failure-isolated Redis operations for tablecache.
//
// Store wraps a go-redis client and exposes scalar, list, set, hash and sorted-set
// commands plus the table-level helpers used by the data access layer:
//
//   - SetValue / GetValue cache one result blob under a key derived from keys.Params
//   - HashSet / HashGet / HashGetAll / HashDel cache JSON documents as fields of a
//     per-table hash
//   - PipelineSAdd / PipelineHSet / PipelineZAdd populate a collection in one round trip
//
// Every failing operation is logged and returned as a *Fault so callers can tell a
// miss from a store or decode fault. Writes that carry a TTL apply it with EXPIRE
// right after the write succeeds; a TTL of 0 leaves expiry untouched.
//
// Basic usage example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewStore(client, nil)
//
//	key, err := store.SetValue(ctx, keys.Params{Table: "items", Query: q, Pack: true}, doc, time.Hour)
//	value, err := store.GetValue(ctx, keys.Params{Table: "items", Query: q, Pack: true})
//	if cache.IsMiss(err) {
//	    // not cached
//	}
package cache

import (
	"context"
	"errors"
	"time"

	"tablecache/core"
	"tablecache/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheType selects how a result is represented in Redis.
type CacheType int

const (
	// TypeString stores the whole result as one blob under one key.
	TypeString CacheType = iota
	// TypeHash stores the result as a JSON field of a per-table hash.
	TypeHash
)

// Default TTLs used by the table-level helpers.
const (
	// DefaultSetNXTTL is applied by SetNX when no TTL is given.
	DefaultSetNXTTL = 12 * time.Hour

	// DefaultHashTTL is the TTL of hash caches.
	DefaultHashTTL = 12 * time.Hour
)

// Options represents configuration options for Store.
type Options struct {
	// Debug enables debug logging of every command with its key.
	Debug bool

	// Logger receives fault and debug logs. Defaults to core.GetLogger().
	Logger *zap.Logger

	// Metrics receives per-command timings under metrics.ScopeRedis.
	Metrics metrics.Collector
}

// DefaultOptions returns the default Store options.
func DefaultOptions() *Options {
	return &Options{
		Debug:   false,
		Logger:  core.GetLogger(),
		Metrics: metrics.Nop{},
	}
}

// Store implements the typed cache operations on top of a Redis client.
type Store struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	metrics metrics.Collector
	debug   bool
}

// NewStore creates a Store using client. A nil options uses DefaultOptions.
func NewStore(client redis.UniversalClient, options *Options) *Store {
	if options == nil {
		options = DefaultOptions()
	}

	collector := options.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	return &Store{
		client:  client,
		logger:  core.LoggerOrDefault(options.Logger),
		metrics: collector,
		debug:   options.Debug,
	}
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

func (s *Store) track(op string) func() {
	return metrics.Track(s.metrics, metrics.ScopeRedis, op)
}

// fault converts a Redis error into a *Fault and logs it. redis.Nil becomes a
// miss and is only logged in debug mode.
func (s *Store) fault(op, key string, err error) error {
	if errors.Is(err, redis.Nil) {
		if s.debug {
			s.logger.Debug("cache miss", zap.String("op", op), zap.String("key", key))
		}
		return &Fault{Kind: FaultMiss, Op: op, Key: key}
	}

	s.logger.Error("cache store fault",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
	return &Fault{Kind: FaultStore, Op: op, Key: key, Err: err}
}

func (s *Store) decodeFault(op, key string, err error) error {
	s.logger.Error("cache decode fault",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
	return &Fault{Kind: FaultDecode, Op: op, Key: key, Err: err}
}

func (s *Store) miss(op, key string) error {
	if s.debug {
		s.logger.Debug("cache miss", zap.String("op", op), zap.String("key", key))
	}
	return &Fault{Kind: FaultMiss, Op: op, Key: key}
}

func (s *Store) logDebug(op, key string, fields ...zap.Field) {
	if !s.debug {
		return
	}
	s.logger.Debug(op, append([]zap.Field{zap.String("key", key)}, fields...)...)
}

// expireAfterWrite applies ttl to key when ttl is positive.
func (s *Store) expireAfterWrite(ctx context.Context, op, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return s.fault(op, key, err)
	}
	return nil
}
