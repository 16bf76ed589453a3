// Package redis is a cache.Store shared by every gateway replica.
//
// Entries are JSON strings with a native TTL. Each tag is a set of entry
// keys; sets are never expired by Redis and Purge drops members whose entry
// has gone.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "gateway:cache:"

type record struct {
	Entry cache.Entry `json:"entry"`
	Tags  []string    `json:"tags,omitempty"`
}

type Store struct {
	client *redis.Client
	prefix string
}

var _ cache.Store = (*Store)(nil)

func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) entryKey(key string) string { return s.prefix + "entry:" + key }
func (s *Store) tagKey(tag string) string   { return s.prefix + "tag:" + tag }

func (s *Store) Get(ctx context.Context, key string) (cache.Entry, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return cache.Entry{}, err
	}
	return rec.Entry, nil
}

func (s *Store) load(ctx context.Context, key string) (record, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, cache.ErrMiss
	}
	if err != nil {
		return record{}, err
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) Set(ctx context.Context, key string, e cache.Entry, tags []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(record{Entry: e, Tags: tags})
	if err != nil {
		return err
	}

	old, err := s.load(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range old.Tags {
			pipe.SRem(ctx, s.tagKey(tag), key)
		}
		pipe.Set(ctx, s.entryKey(key), raw, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, s.tagKey(tag), key)
		}
		return nil
	})
	return err
}

func (s *Store) ExpireTag(ctx context.Context, tag string) error {
	keys, err := s.client.SMembers(ctx, s.tagKey(tag)).Result()
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, s.entryKey(key))
		}
		pipe.Del(ctx, s.tagKey(tag))
		return nil
	})
	return err
}

// MarkStale relies on EXPIRE ... LT (Redis 7+), which only ever shortens a TTL.
// Redis expiries have whole-second resolution.
func (s *Store) MarkStale(ctx context.Context, tag string, maxStale time.Duration) error {
	keys, err := s.client.SMembers(ctx, s.tagKey(tag)).Result()
	if err != nil || len(keys) == 0 {
		return err
	}

	if maxStale < time.Second {
		maxStale = time.Second
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ExpireLT(ctx, s.entryKey(key), maxStale)
		}
		return nil
	})
	return err
}

// Purge removes tag set members whose entry has expired.
func (s *Store) Purge(ctx context.Context) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.tagKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()

		keys, err := s.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return removed, err
		}

		for _, key := range keys {
			n, err := s.client.Exists(ctx, s.entryKey(key)).Result()
			if err != nil {
				return removed, err
			}
			if n > 0 {
				continue
			}
			if err := s.client.SRem(ctx, setKey, key).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, iter.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }
