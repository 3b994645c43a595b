// Package session provides an optional Redis-backed cache for verified
// bearer identities, keyed by token hash. Entries expire with the token,
// so a revoked-at-the-provider token ages out on its own schedule.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotCached is returned when no identity is cached for a token hash.
var ErrNotCached = errors.New("identity not cached")

// Identity is the cached result of verifying a bearer token.
type Identity struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	UserID    int64     `json:"user_id"`
	CachedAt  time.Time `json:"cached_at"`
}

// RedisStore caches verified identities in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and returns an identity cache.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "identity:",
	}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "identity:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveIdentity caches a verified identity until ttl elapses.
func (s *RedisStore) SaveIdentity(ctx context.Context, tokenHash string, identity Identity, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	identity.CachedAt = time.Now()

	jsonData, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// LookupIdentity retrieves a cached identity, or ErrNotCached.
func (s *RedisStore) LookupIdentity(ctx context.Context, tokenHash string) (Identity, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return Identity{}, ErrNotCached
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal([]byte(jsonData), &identity); err != nil {
		return Identity{}, fmt.Errorf("unmarshal identity: %w", err)
	}
	return identity, nil
}

// DropIdentity removes a cached identity.
func (s *RedisStore) DropIdentity(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("drop identity: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
