package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	Backend string      `env:"CACHE_BACKEND" yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// Open builds the configured Store. dataDir hosts the sqlite file, whose
// expired entries are pruned on open.
func Open(ctx context.Context, cfg Config, dataDir string, ttl time.Duration, opts ...Option) (Store, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		store, err := OpenSQLite(ctx, filepath.Join(dataDir, SQLiteFileName), ttl, opts...)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			if _, err = store.Prune(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		return store, nil
	case BackendMemory:
		return NewMemoryStore(ttl, opts...), nil
	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, ttl, append(opts, WithKeyPrefix(cfg.Redis.Prefix))...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
