package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding all records.
const DefaultRedisKey = "tvcollector:validation"

// RedisStore keeps records in one Redis hash: field = url, value = JSON record.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore parses a Redis URL (e.g. "redis://host:6379/0").
func NewRedisStore(rawURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: redis.NewClient(opts), key: key}, nil
}

func (s *RedisStore) Load(ctx context.Context) (map[string]Record, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis hgetall: %w", err)
	}
	records := make(map[string]Record, len(raw))
	for url, v := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			s.client.Del(ctx, s.key)
			return nil, fmt.Errorf("%w: redis %s field %s: %v", ErrCorrupt, s.key, url, err)
		}
		rec.URL = url
		records[url] = rec
	}
	return records, nil
}

// Save replaces the hash inside MULTI/EXEC so readers see the old or new set.
func (s *RedisStore) Save(ctx context.Context, records map[string]Record) error {
	fields := make(map[string]interface{}, len(records))
	for url, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("cache: encode %s: %w", url, err)
		}
		fields[url] = data
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis save: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
