package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablecache/codec"
	"tablecache/keys"

	"go.uber.org/zap"
)

// ErrUnsupportedType is returned by ReadByType and WriteByType for cache types
// that have no table-level representation.
var ErrUnsupportedType = errors.New("unsupported cache type")

// SetValue caches value under the key derived from p and returns that key.
// Packed params are stored as msgpack, others as JSON text.
func (s *Store) SetValue(ctx context.Context, p keys.Params, value any, ttl time.Duration) (string, error) {
	defer s.track("set")()

	key := keys.Build(p)
	data, err := codec.For(p.Pack).Encode(value)
	if err != nil {
		return key, s.decodeFault("Store.SetValue", key, err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return key, s.fault("Store.SetValue", key, err)
	}
	s.logDebug("Store.SetValue", key, zap.Duration("ttl", ttl))
	return key, nil
}

// GetValue returns the value cached under the key derived from p.
func (s *Store) GetValue(ctx context.Context, p keys.Params) (any, error) {
	defer s.track("get")()

	key := keys.Build(p)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, s.fault("Store.GetValue", key, err)
	}

	value, err := codec.For(p.Pack).Decode(data)
	if errors.Is(err, codec.ErrNoValue) {
		return nil, s.miss("Store.GetValue", key)
	}
	if err != nil {
		return nil, s.decodeFault("Store.GetValue", key, err)
	}
	s.logDebug("Store.GetValue", key)
	return value, nil
}

// hashKey returns the key of the hash cache for p. Hash caches are always JSON.
func hashKey(p keys.Params) string {
	p.Pack = false
	return keys.Build(p)
}

// HashSet stores value as JSON in field of the hash derived from p and applies
// ttl. A failed write deletes the hash so no partial state survives.
func (s *Store) HashSet(ctx context.Context, p keys.Params, field string, value any, ttl time.Duration) (string, error) {
	defer s.track("hashset")()

	key := hashKey(p)
	data, err := codec.JSON.Encode(value)
	if err != nil {
		return key, s.decodeFault("Store.HashSet", key, err)
	}

	if err := s.client.HSet(ctx, key, field, data).Err(); err != nil {
		s.dropCorrupt(ctx, key)
		return key, s.fault("Store.HashSet", key, err)
	}
	if err := s.expireAfterWrite(ctx, "Store.HashSet", key, ttl); err != nil {
		s.dropCorrupt(ctx, key)
		return key, err
	}
	s.logDebug("Store.HashSet", key, zap.String("field", field))
	return key, nil
}

// HashGet returns the JSON document in field of the hash derived from p.
// A payload that cannot be decoded deletes the hash.
func (s *Store) HashGet(ctx context.Context, p keys.Params, field string) (any, error) {
	defer s.track("hashget")()

	key := hashKey(p)
	raw, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		return nil, s.fault("Store.HashGet", key, err)
	}

	value, err := codec.JSON.Decode(raw)
	if errors.Is(err, codec.ErrNoValue) {
		return nil, s.miss("Store.HashGet", key)
	}
	if err != nil {
		s.dropCorrupt(ctx, key)
		return nil, s.decodeFault("Store.HashGet", key, err)
	}
	s.logDebug("Store.HashGet", key, zap.String("field", field))
	return value, nil
}

// HashGetAll returns every field of the hash derived from p, decoded. An empty
// or absent hash is a miss.
func (s *Store) HashGetAll(ctx context.Context, p keys.Params) (map[string]any, error) {
	defer s.track("hash_get_all")()

	key := hashKey(p)
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.fault("Store.HashGetAll", key, err)
	}
	if len(raw) == 0 {
		return nil, s.miss("Store.HashGetAll", key)
	}

	out := make(map[string]any, len(raw))
	for field, data := range raw {
		value, err := codec.JSON.Decode([]byte(data))
		if err != nil {
			s.dropCorrupt(ctx, key)
			return nil, s.decodeFault("Store.HashGetAll", key, err)
		}
		out[field] = value
	}
	return out, nil
}

// HashDel removes fields from the hash derived from p. It refuses to touch a
// key that holds anything other than a hash.
func (s *Store) HashDel(ctx context.Context, p keys.Params, fields ...string) error {
	defer s.track("hashdel")()

	key := hashKey(p)
	kind, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return s.fault("Store.HashDel", key, err)
	}
	switch kind {
	case "none":
		return s.miss("Store.HashDel", key)
	case "hash":
	default:
		s.logger.Warn("cache key holds the wrong type",
			zap.String("op", "Store.HashDel"),
			zap.String("key", key),
			zap.String("type", kind))
		return &Fault{Kind: FaultWrongType, Op: "Store.HashDel", Key: key}
	}

	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return s.fault("Store.HashDel", key, err)
	}
	s.logDebug("Store.HashDel", key, zap.Strings("fields", fields))
	return nil
}

// ClearCache deletes the key derived from p and returns it.
func (s *Store) ClearCache(ctx context.Context, p keys.Params) (string, error) {
	key := keys.Build(p)
	return key, s.Delete(ctx, key)
}

// ClearPattern deletes every key matching pattern and returns how many were found.
func (s *Store) ClearPattern(ctx context.Context, pattern string) (int, error) {
	found, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if err := s.DeleteMany(ctx, found...); err != nil {
		return 0, err
	}
	return len(found), nil
}

// ReadByType reads a cached result in the representation selected by kind.
// field is only used by TypeHash.
func (s *Store) ReadByType(ctx context.Context, kind CacheType, p keys.Params, field string) (any, error) {
	switch kind {
	case TypeString:
		return s.GetValue(ctx, p)
	case TypeHash:
		return s.HashGet(ctx, p, field)
	default:
		return nil, fmt.Errorf("read cache type %d: %w", kind, ErrUnsupportedType)
	}
}

// WriteByType writes a result in the representation selected by kind and
// returns the cache key. field is only used by TypeHash.
func (s *Store) WriteByType(ctx context.Context, kind CacheType, p keys.Params, field string, value any, ttl time.Duration) (string, error) {
	switch kind {
	case TypeString:
		return s.SetValue(ctx, p, value, ttl)
	case TypeHash:
		return s.HashSet(ctx, p, field, value, ttl)
	default:
		return "", fmt.Errorf("write cache type %d: %w", kind, ErrUnsupportedType)
	}
}

// dropCorrupt deletes key after a failed write or decode. Its own failure is
// only logged.
func (s *Store) dropCorrupt(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("failed to drop cache key",
			zap.String("key", key),
			zap.Error(err))
	}
}
