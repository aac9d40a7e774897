package history

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each room's history as a hash of key → value plus a
// sorted set of keys, all scored zero, so that lexical range queries return
// keys in order.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// roomValuesKey returns the key for a room's message hash.
func roomValuesKey(room string) string {
	return fmt.Sprintf("room:%s:messages", room)
}

// roomIndexKey returns the key for a room's ordered key index.
func roomIndexKey(room string) string {
	return fmt.Sprintf("room:%s:index", room)
}

func (s *RedisStore) Put(ctx context.Context, room, key, value string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomValuesKey(room), key, value)
		pipe.ZAdd(ctx, roomIndexKey(room), redis.Z{Score: 0, Member: key})
		return nil
	})
	return err
}

func (s *RedisStore) List(ctx context.Context, room string, opts ListOptions) ([]Entry, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if opts.Limit > 0 {
		by.Count = int64(opts.Limit)
	}

	var (
		keys []string
		err  error
	)
	if opts.Reverse {
		keys, err = s.client.ZRevRangeByLex(ctx, roomIndexKey(room), by).Result()
	} else {
		keys, err = s.client.ZRangeByLex(ctx, roomIndexKey(room), by).Result()
	}
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, roomValuesKey(room), keys...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		value, ok := values[i].(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries, nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, room string) error {
	return s.client.Del(ctx, roomValuesKey(room), roomIndexKey(room)).Err()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
