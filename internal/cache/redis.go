package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"datacache/internal/core"
)

const (
	// DefaultKeyPrefix namespaces all cache keys in the shared store.
	DefaultKeyPrefix = "datacache:"

	// DefaultMaxValueBytes caps the serialized size of an entry written to
	// the shared tier. Larger values are returned to the caller uncached.
	DefaultMaxValueBytes = 512 * 1024

	// ttlBackstopSlack is added to the backend expiry so the logical
	// CreatedAt+TTL check always fires first.
	ttlBackstopSlack = time.Minute
)

// RedisConfig holds Redis connection configuration for the L2 tier.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string

	// KeyPrefix namespaces cache keys (defaults to "datacache:").
	KeyPrefix string

	// MaxValueBytes caps serialized entry size (defaults to 512 KiB).
	MaxValueBytes int
}

// Redis implements the shared L2 tier. Entries are stored as JSON with an
// expiry slightly beyond the logical TTL; tag membership is kept in Redis
// sets so tag invalidation never scans the keyspace.
type Redis struct {
	client   *redis.Client
	prefix   string
	maxValue int
}

// NewRedis creates the L2 tier and verifies connectivity.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	maxBytes := cfg.MaxValueBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxValueBytes
	}

	slog.Info("redis cache tier connected", "prefix", prefix, "max_value_bytes", maxBytes)

	return &Redis{
		client:   client,
		prefix:   prefix,
		maxValue: maxBytes,
	}, nil
}

// Get retrieves an entry from the shared tier. Returns nil, nil on miss.
func (r *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, core.NewCacheUnavailableError(err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse cache entry from redis: %w", err)
	}
	return &entry, nil
}

// Set stores an entry in the shared tier with a backend expiry backstopping
// the logical TTL. Oversized entries are rejected with a size-limit error.
func (r *Redis) Set(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if len(data) > r.maxValue {
		return core.NewSizeLimitError(entry.Key, len(data), r.maxValue)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefix+entry.Key, data, entry.TTL+ttlBackstopSlack)
	for _, tag := range entry.Tags {
		pipe.SAdd(ctx, r.tagKey(tag), entry.Key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewCacheUnavailableError(err)
	}
	return nil
}

// Delete removes keys from the shared tier and returns how many existed.
func (r *Redis) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	n, err := r.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, core.NewCacheUnavailableError(err)
	}
	return int(n), nil
}

// DeleteByTag removes every key in the tag's set plus the set itself.
// Returns the number of cache entries deleted.
func (r *Redis) DeleteByTag(ctx context.Context, tag string) (int, error) {
	keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
	if err != nil {
		return 0, core.NewCacheUnavailableError(err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := r.Delete(ctx, keys...)
	if err != nil {
		return 0, err
	}
	if err := r.client.Del(ctx, r.tagKey(tag)).Err(); err != nil {
		return deleted, core.NewCacheUnavailableError(err)
	}
	return deleted, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Redis) tagKey(tag string) string {
	return r.prefix + "tag:" + tag
}
