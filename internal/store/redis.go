package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locks is the go-redis-backed Lock Store. It holds only transient,
// reconstructible state: reservation locks and idempotency markers. Losing it
// can cause a retry or a temporary false "not available", never lost money or
// a double-allocated wagon.
type Locks struct {
	client *redis.Client
}

func NewLocks(ctx context.Context, addr, password string, db int) (*Locks, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	return &Locks{client: client}, nil
}

func (l *Locks) Close() error {
	return l.client.Close()
}

// Acquire is an atomic set-if-absent with TTL. It is the sole arbiter of who
// wins a contended claim.
func (l *Locks) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (l *Locks) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (l *Locks) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}
