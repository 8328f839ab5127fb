package store

import (
	"context"
	"fmt"
	"time"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	RunLeaseKey = "lease:run"

	DefaultRetention = 7 * 24 * time.Hour
	DefaultLeaseTTL  = 10 * time.Minute
)

// DedupStore remembers which items have already been delivered.
type DedupStore interface {
	Seen(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id string, ttl time.Duration) error
}

// Lease is a named lock with an owner and an expiry. A crashed holder
// blocks other owners until the TTL elapses.
type Lease interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// Purger is implemented by backends without native key expiry.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

type Store interface {
	DedupStore
	Lease
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Backend       string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open connects the configured backend and prepares it for use.
func Open(ctx context.Context, c Config) (Store, error) {
	switch c.Backend {
	case BackendSQLite, "":
		s, err := NewSQLite(ctx, c.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		r, err := NewRedis(ctx, RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", c.Backend)
	}
}

// PostKey namespaces an item identity.
func PostKey(id string) string {
	return "post:" + id
}

func retention(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultRetention
	}
	return ttl
}
