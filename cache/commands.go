package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"tablecache/codec"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ScoredMember is a sorted-set member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// encode packs value when pack is set, otherwise hands it to Redis unchanged.
func encode(value any, pack bool) (any, error) {
	if !pack || value == nil {
		return value, nil
	}
	return codec.Pack(value)
}

func decode(raw string, pack bool) (any, error) {
	if !pack {
		return raw, nil
	}
	return codec.Unpack([]byte(raw))
}

// Scalar commands

// Get returns the unpacked value stored at key.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	defer s.track("strict_get")()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, s.fault("Store.Get", key, err)
	}
	s.logDebug("Store.Get", key)

	value, err := codec.Unpack(data)
	if errors.Is(err, codec.ErrNoValue) {
		return nil, s.miss("Store.Get", key)
	}
	if err != nil {
		return nil, s.decodeFault("Store.Get", key, err)
	}
	return value, nil
}

// GetRaw returns the bytes stored at key without decoding them.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	defer s.track("strict_get")()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, s.fault("Store.GetRaw", key, err)
	}
	if len(data) == 0 {
		return nil, s.miss("Store.GetRaw", key)
	}
	return data, nil
}

// Set packs value, stores it at key and applies ttl.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	defer s.track("strict_set")()

	data, err := codec.Pack(value)
	if err != nil {
		return s.decodeFault("Store.Set", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return s.fault("Store.Set", key, err)
	}
	s.logDebug("Store.Set", key, zap.Duration("ttl", ttl))

	return s.expireAfterWrite(ctx, "Store.Set", key, ttl)
}

// SetEx stores value at key with an expiry set atomically by the same command.
func (s *Store) SetEx(ctx context.Context, key string, ttl time.Duration, value any, pack bool) error {
	defer s.track("strict_setex")()

	payload, err := encode(value, pack)
	if err != nil {
		return s.decodeFault("Store.SetEx", key, err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return s.fault("Store.SetEx", key, err)
	}
	s.logDebug("Store.SetEx", key, zap.Duration("ttl", ttl))
	return nil
}

// SetNX stores value at key only if the key does not exist. The TTL is applied
// when the value was written; a zero ttl uses DefaultSetNXTTL.
func (s *Store) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	defer s.track("strict_setnx")()

	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, s.fault("Store.SetNX", key, err)
	}
	s.logDebug("Store.SetNX", key, zap.Bool("result", ok))

	if !ok {
		return false, nil
	}
	if ttl == 0 {
		ttl = DefaultSetNXTTL
	}
	return true, s.expireAfterWrite(ctx, "Store.SetNX", key, ttl)
}

// Incr increments the integer at key by one.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

// IncrBy increments the integer at key by increment.
func (s *Store) IncrBy(ctx context.Context, key string, increment int64) (int64, error) {
	defer s.track("strict_incrby")()

	n, err := s.client.IncrBy(ctx, key, increment).Result()
	if err != nil {
		return 0, s.fault("Store.IncrBy", key, err)
	}
	s.logDebug("Store.IncrBy", key, zap.Int64("result", n))
	return n, nil
}

// List commands

// LPush prepends value to the list at key.
func (s *Store) LPush(ctx context.Context, key string, value any, pack bool) error {
	defer s.track("strict_lpush")()

	payload, err := encode(value, pack)
	if err != nil {
		return s.decodeFault("Store.LPush", key, err)
	}
	if err := s.client.LPush(ctx, key, payload).Err(); err != nil {
		return s.fault("Store.LPush", key, err)
	}
	s.logDebug("Store.LPush", key)
	return nil
}

// LRange returns the list elements between start and stop inclusive.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64, pack bool) ([]any, error) {
	defer s.track("strict_lrange")()

	raw, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, s.fault("Store.LRange", key, err)
	}

	out := make([]any, 0, len(raw))
	for _, r := range raw {
		v, err := decode(r, pack)
		if err != nil {
			return nil, s.decodeFault("Store.LRange", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Set commands

// SAdd adds member to the set at key and applies ttl.
func (s *Store) SAdd(ctx context.Context, key string, member any, pack bool, ttl time.Duration) error {
	defer s.track("strict_sadd")()

	payload, err := encode(member, pack)
	if err != nil {
		return s.decodeFault("Store.SAdd", key, err)
	}
	if err := s.client.SAdd(ctx, key, payload).Err(); err != nil {
		return s.fault("Store.SAdd", key, err)
	}
	s.logDebug("Store.SAdd", key)

	return s.expireAfterWrite(ctx, "Store.SAdd", key, ttl)
}

// PipelineSAdd adds every member to the set at key in one round trip.
// The pipeline is not atomic; a fault may leave the set partially populated.
func (s *Store) PipelineSAdd(ctx context.Context, key string, members []any, pack bool) error {
	defer s.track("strict_pipeline_sadd")()

	if len(members) == 0 {
		return nil
	}

	payloads := make([]any, 0, len(members))
	for _, m := range members {
		p, err := encode(m, pack)
		if err != nil {
			return s.decodeFault("Store.PipelineSAdd", key, err)
		}
		payloads = append(payloads, p)
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range payloads {
			pipe.SAdd(ctx, key, p)
		}
		return nil
	})
	if err != nil {
		return s.fault("Store.PipelineSAdd", key, err)
	}
	return nil
}

// SRem removes members from the set at key.
func (s *Store) SRem(ctx context.Context, key string, members ...any) error {
	defer s.track("strict_srem")()

	if len(members) == 0 {
		return nil
	}
	n, err := s.client.SRem(ctx, key, members...).Result()
	if err != nil {
		return s.fault("Store.SRem", key, err)
	}
	s.logDebug("Store.SRem", key, zap.Int64("result", n))
	return nil
}

// SCard returns the number of members of the set at key.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	defer s.track("strict_scard")()

	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, s.fault("Store.SCard", key, err)
	}
	return n, nil
}

// SIsMember reports whether member belongs to the set at key.
func (s *Store) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	defer s.track("strict_sismember")()

	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, s.fault("Store.SIsMember", key, err)
	}
	return ok, nil
}

// SInter returns the raw members of the intersection of the sets at keys.
// With a single key it returns that set's members.
func (s *Store) SInter(ctx context.Context, keys ...string) ([]string, error) {
	defer s.track("strict_sinter")()

	if len(keys) == 0 {
		return nil, nil
	}
	members, err := s.client.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, s.fault("Store.SInter", keys[0], err)
	}
	s.logDebug("Store.SInter", keys[0], zap.Int("members", len(members)))
	return members, nil
}

// SInterValues is SInter with members unpacked.
func (s *Store) SInterValues(ctx context.Context, keys ...string) ([]any, error) {
	members, err := s.SInter(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(members))
	for _, m := range members {
		v, err := codec.Unpack([]byte(m))
		if err != nil {
			return nil, s.decodeFault("Store.SInterValues", keys[0], err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Hash commands

// HSet stores value in field of the hash at key and applies ttl.
func (s *Store) HSet(ctx context.Context, key, field string, value any, pack bool, ttl time.Duration) error {
	defer s.track("strict_hset")()

	payload, err := encode(value, pack)
	if err != nil {
		return s.decodeFault("Store.HSet", key, err)
	}
	if err := s.client.HSet(ctx, key, field, payload).Err(); err != nil {
		return s.fault("Store.HSet", key, err)
	}
	s.logDebug("Store.HSet", key, zap.String("field", field))

	return s.expireAfterWrite(ctx, "Store.HSet", key, ttl)
}

// PipelineHSet stores every field of values in the hash at key in one round trip.
func (s *Store) PipelineHSet(ctx context.Context, key string, values map[string]any, pack bool) error {
	defer s.track("strict_pipeline_hset")()

	if len(values) == 0 {
		return nil
	}

	payloads := make(map[string]any, len(values))
	for field, v := range values {
		p, err := encode(v, pack)
		if err != nil {
			return s.decodeFault("Store.PipelineHSet", key, err)
		}
		payloads[field] = p
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, p := range payloads {
			pipe.HSet(ctx, key, field, p)
		}
		return nil
	})
	if err != nil {
		return s.fault("Store.PipelineHSet", key, err)
	}
	return nil
}

// HGet returns field of the hash at key.
func (s *Store) HGet(ctx context.Context, key, field string, pack bool) (any, error) {
	defer s.track("strict_hget")()

	raw, err := s.client.HGet(ctx, key, field).Result()
	if err != nil {
		return nil, s.fault("Store.HGet", key, err)
	}
	s.logDebug("Store.HGet", key, zap.String("field", field))

	v, err := decode(raw, pack)
	if err != nil {
		return nil, s.decodeFault("Store.HGet", key, err)
	}
	return v, nil
}

// HMGet returns the values of fields that exist in the hash at key, skipping
// missing ones.
func (s *Store) HMGet(ctx context.Context, key string, fields []string, pack bool) ([]any, error) {
	defer s.track("strict_hmget")()

	if len(fields) == 0 {
		return nil, nil
	}
	raw, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, s.fault("Store.HMGet", key, err)
	}

	out := make([]any, 0, len(raw))
	for _, r := range raw {
		str, ok := r.(string)
		if !ok {
			continue
		}
		v, err := decode(str, pack)
		if err != nil {
			return nil, s.decodeFault("Store.HMGet", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// HDel removes fields from the hash at key.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	defer s.track("strict_hdel")()

	if len(fields) == 0 {
		return nil
	}
	n, err := s.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return s.fault("Store.HDel", key, err)
	}
	s.logDebug("Store.HDel", key, zap.Int64("result", n))
	return nil
}

// HKeys returns the field names of the hash at key.
func (s *Store) HKeys(ctx context.Context, key string) ([]string, error) {
	defer s.track("strict_hkeys")()

	fields, err := s.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, s.fault("Store.HKeys", key, err)
	}
	return fields, nil
}

// HExists reports whether field exists in the hash at key.
func (s *Store) HExists(ctx context.Context, key, field string) (bool, error) {
	defer s.track("strict_hexists")()

	ok, err := s.client.HExists(ctx, key, field).Result()
	if err != nil {
		return false, s.fault("Store.HExists", key, err)
	}
	return ok, nil
}

// HIncrBy increments the integer in field of the hash at key.
func (s *Store) HIncrBy(ctx context.Context, key, field string, increment int64) (int64, error) {
	defer s.track("strict_hincrby")()

	n, err := s.client.HIncrBy(ctx, key, field, increment).Result()
	if err != nil {
		return 0, s.fault("Store.HIncrBy", key, err)
	}
	s.logDebug("Store.HIncrBy", key, zap.String("field", field), zap.Int64("result", n))
	return n, nil
}

// Sorted-set commands

// ZAdd adds member with score to the sorted set at key and applies ttl.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	defer s.track("strict_zadd")()

	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return s.fault("Store.ZAdd", key, err)
	}
	s.logDebug("Store.ZAdd", key, zap.String("member", member))

	return s.expireAfterWrite(ctx, "Store.ZAdd", key, ttl)
}

// PipelineZAdd adds every member to the sorted set at key in one round trip.
// The pipeline is not atomic; a fault may leave the set partially populated.
func (s *Store) PipelineZAdd(ctx context.Context, key string, members []ScoredMember) error {
	defer s.track("strict_pipeline_zadd")()

	if len(members) == 0 {
		return nil
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			pipe.ZAdd(ctx, key, redis.Z{Score: m.Score, Member: m.Member})
		}
		return nil
	})
	if err != nil {
		return s.fault("Store.PipelineZAdd", key, err)
	}
	return nil
}

// ZRem removes members from the sorted set at key.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	defer s.track("strict_zrem")()

	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.client.ZRem(ctx, key, args...).Result()
	if err != nil {
		return s.fault("Store.ZRem", key, err)
	}
	s.logDebug("Store.ZRem", key, zap.Int64("result", n))
	return nil
}

// ZRange returns members by ascending score between start and stop inclusive.
func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	defer s.track("strict_zrange")()

	members, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, s.fault("Store.ZRange", key, err)
	}
	s.logDebug("Store.ZRange", key, zap.Int64("start", start), zap.Int64("stop", stop))
	return members, nil
}

// ZRangeWithScores is ZRange returning scores too.
func (s *Store) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	defer s.track("strict_zrange")()

	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, s.fault("Store.ZRangeWithScores", key, err)
	}
	return scored(zs), nil
}

// ZRevRange returns members by descending score between start and stop inclusive.
func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	defer s.track("strict_zrevrange")()

	members, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, s.fault("Store.ZRevRange", key, err)
	}
	s.logDebug("Store.ZRevRange", key, zap.Int64("start", start), zap.Int64("stop", stop))
	return members, nil
}

// ZRangeByScore returns members with scores between min and max inclusive.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	defer s.track("strict_zrangebyscore")()

	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, s.fault("Store.ZRangeByScore", key, err)
	}
	return members, nil
}

// ZCard returns the number of members of the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	defer s.track("strict_zcard")()

	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, s.fault("Store.ZCard", key, err)
	}
	s.logDebug("Store.ZCard", key, zap.Int64("result", n))
	return n, nil
}

func scored(zs []redis.Z) []ScoredMember {
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Generic commands

// Exists reports whether key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	defer s.track("exists")()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, s.fault("Store.Exists", key, err)
	}
	return n > 0, nil
}

// Type returns the Redis type name of key ("none" when absent).
func (s *Store) Type(ctx context.Context, key string) (string, error) {
	defer s.track("type")()

	t, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return "", s.fault("Store.Type", key, err)
	}
	return t, nil
}

// Expire sets the TTL of key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	defer s.track("expire")()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return s.fault("Store.Expire", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	defer s.track("delete")()

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return s.fault("Store.Delete", key, err)
	}
	s.logDebug("Store.Delete", key, zap.Int64("result", n))
	return nil
}

// DeleteMany removes every key in one round trip. Each key gets its own DEL so
// a cluster client can route keys of different hash slots.
func (s *Store) DeleteMany(ctx context.Context, keys ...string) error {
	defer s.track("clear_cache_by_key")()

	if len(keys) == 0 {
		return nil
	}
	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return s.fault("Store.DeleteMany", keys[0], err)
	}
	if s.debug {
		var n int64
		for _, cmd := range cmds {
			if del, ok := cmd.(*redis.IntCmd); ok {
				n += del.Val()
			}
		}
		s.logger.Debug("Store.DeleteMany", zap.Strings("keys", keys), zap.Int64("result", n))
	}
	return nil
}

// Keys returns every key matching the glob pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	defer s.track("keys")()

	found, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, s.fault("Store.Keys", pattern, err)
	}
	s.logDebug("Store.Keys", pattern, zap.Int("result", len(found)))
	return found, nil
}
