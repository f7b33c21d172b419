// Package cache stores fetched detail payloads keyed by CVE identifier with a TTL.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Store maps a CVE identifier to its most recently fetched payload.
//
// Get reports a hit only while the entry is younger than the store TTL. An absent
// or expired entry is a miss, not an error; err is reserved for backend failures.
// Put overwrites unconditionally. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (domain.DetailPayload, bool, error)
	Put(ctx context.Context, id string, payload domain.DetailPayload) error
	Close() error
}

// Entry is the persisted form of a cached payload.
type Entry struct {
	Payload   domain.DetailPayload `json:"payload"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// Fresh reports whether e is still within ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}

// Option configures a store.
type Option func(*options)

type options struct {
	now    func() time.Time
	prefix string
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		prefix: DefaultRedisPrefix,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithKeyPrefix sets the key namespace for the redis backend.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}
