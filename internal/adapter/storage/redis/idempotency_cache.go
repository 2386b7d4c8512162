package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-collection-broker/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis. Entries are
// stored as JSON under a common prefix.
type IdempotencyCache struct {
	client *goredis.Client
	prefix string
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "idempotency:",
	}
}

// Get returns nil, nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (*domain.IdempotencyEntry, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}

	var entry domain.IdempotencyEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, fmt.Errorf("redis idempotency decode: %w", err)
	}
	return &entry, nil
}

// Reserve stores an in-progress marker with SET NX.
func (c *IdempotencyCache) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	val, err := json.Marshal(domain.IdempotencyEntry{State: domain.IdempotencyInProgress})
	if err != nil {
		return false, fmt.Errorf("redis idempotency encode: %w", err)
	}
	ok, err := c.client.SetNX(ctx, c.prefix+key, val, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis idempotency reserve: %w", err)
	}
	return ok, nil
}

// Complete replaces the marker with the finished record.
func (c *IdempotencyCache) Complete(ctx context.Context, key string, rec *domain.TransactionRecord, ttl time.Duration) error {
	val, err := json.Marshal(domain.IdempotencyEntry{State: domain.IdempotencyCompleted, Record: rec})
	if err != nil {
		return fmt.Errorf("redis idempotency encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}

// Release drops the entry so the caller may retry.
func (c *IdempotencyCache) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis idempotency release: %w", err)
	}
	return nil
}
