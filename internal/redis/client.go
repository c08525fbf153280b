package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps the shared counter store connection. The gateway only reads
// and increments counters here; it never owns the store's lifecycle.
type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// IncrementWindow atomically increments a window-bucketed counter and pins
// its expiry. The window bucket is part of the key, so the TTL only garbage
// collects dead buckets; concurrent replicas incrementing the same key never
// double-count because INCR is atomic on the store side.
func (c *Client) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()

	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment window counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// WindowCount reads the current count and remaining TTL for a window bucket
// without incrementing it.
func (c *Client) WindowCount(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := c.rdb.TxPipeline()

	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read window counter: %w", err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse window counter: %w", err)
	}

	return count, ttlCmd.Val(), nil
}
