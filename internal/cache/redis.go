package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "avd:detail:"

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `env:"CACHE_REDIS_ADDR"     yaml:"addr"`
	Password string `env:"CACHE_REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"CACHE_REDIS_DB"       yaml:"db"`
	Prefix   string `env:"CACHE_REDIS_PREFIX"   yaml:"prefix"`
}

// RedisStore keeps entries in redis so several crawler processes can share a cache.
// Keys carry a native expiry equal to the TTL; freshness is still checked against
// fetched_at so an injected clock governs hits.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	prefix string
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisStore wraps client.
func NewRedisStore(client *redis.Client, ttl time.Duration, opts ...Option) *RedisStore {
	o := applyOptions(opts)
	return &RedisStore{client: client, ttl: ttl, now: o.now, prefix: o.prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.DetailPayload, bool, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DetailPayload{}, false, nil
		}
		return domain.DetailPayload{}, false, fmt.Errorf("get cache entry %s: %w", id, err)
	}

	var entry Entry
	if unmarshalErr := json.Unmarshal(data, &entry); unmarshalErr != nil {
		return domain.DetailPayload{}, false, fmt.Errorf("decode cache entry %s: %w", id, unmarshalErr)
	}
	if !entry.Fresh(s.now(), s.ttl) {
		return domain.DetailPayload{}, false, nil
	}
	return entry.Payload, true, nil
}

func (s *RedisStore) Put(ctx context.Context, id string, payload domain.DetailPayload) error {
	if s.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(Entry{Payload: payload, FetchedAt: s.now()})
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", id, err)
	}
	if setErr := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); setErr != nil {
		return fmt.Errorf("set cache entry %s: %w", id, setErr)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
