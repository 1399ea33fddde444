package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation as a list of JSON messages.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "stockbot"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:history:%s", s.prefix, id)
}

func (s *RedisStore) Load(ctx context.Context, id string) ([]Message, error) {
	items, err := s.client.LRange(ctx, s.key(id), 0, -1).Result()
	if err != nil {
		return nil, unavailable("redis lrange", err)
	}
	out := make([]Message, 0, len(items))
	for _, item := range items {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, unavailable("decode message", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, m Message) error {
	if err := checkAppend(id, m); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return unavailable("encode message", err)
	}
	if err := s.client.RPush(ctx, s.key(id), data).Err(); err != nil {
		return unavailable("redis rpush", err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return unavailable("redis del", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
