package redisclient

import (
	"context"
	"fmt"
	"time"

	"transfer-service/internal/models"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func levelKey(variantID, locationID string) string {
	return fmt.Sprintf("level:%s:%s", variantID, locationID)
}

// CacheLevel mirrors an inventory level into the read model. Postgres stays
// authoritative; this cache only serves fast location dashboards.
func (c *Client) CacheLevel(ctx context.Context, level *models.InventoryLevel) error {
	key := levelKey(level.VariantID, level.LocationID)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "on_hand", level.OnHand)
	pipe.HSet(ctx, key, "committed", level.Committed)
	pipe.HSet(ctx, key, "unavailable", level.Unavailable.Total())
	pipe.HSet(ctx, key, "available", level.Available)
	pipe.HSet(ctx, key, "incoming", level.Incoming)

	_, err := pipe.Exec(ctx)
	return err
}

// GetCachedLevel retrieves cached counters for a (variant, location) pair
func (c *Client) GetCachedLevel(ctx context.Context, variantID, locationID string) (onHand, available, incoming int, err error) {
	key := levelKey(variantID, locationID)

	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, 0, fmt.Errorf("level not cached for %s at %s", variantID, locationID)
	}

	fmt.Sscanf(result["on_hand"], "%d", &onHand)
	fmt.Sscanf(result["available"], "%d", &available)
	fmt.Sscanf(result["incoming"], "%d", &incoming)

	return onHand, available, incoming, nil
}

// SetIdempotencyKey stores a transition idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey retrieves the stored outcome for an idempotency key,
// returning empty string when the key is unknown.
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	result, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
