package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis relies on native key expiry, so it has no Purge.
type Redis struct {
	client *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return &Redis{client: client}, nil
}

func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	count, err := r.client.Exists(ctx, PostKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", PostKey(id), err)
	}
	return count > 0, nil
}

func (r *Redis) MarkSent(ctx context.Context, id string, ttl time.Duration) error {
	if err := r.client.Set(ctx, PostKey(id), "1", retention(ttl)).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", PostKey(id), err)
	}
	return nil
}

func (r *Redis) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, name, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, name, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{name}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
