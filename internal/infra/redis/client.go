package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "dlq"

// unlockScript deletes the lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client wraps the Redis connection shared by the dead-letter stores.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
	owner  string // lock token of this instance
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewClientFrom(rdb, cfg.KeyPrefix), nil
}

// NewClientFrom wraps an existing connection.
func NewClientFrom(rdb redis.UniversalClient, prefix string) *Client {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix, owner: uuid.NewString()}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func (c *Client) lockKey(name string) string {
	return fmt.Sprintf("%s:lock:%s", c.prefix, name)
}

// TryLock attempts to acquire a named lock that expires after ttl.
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.lockKey(name), c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Unlock releases a named lock held by this client. A lock that expired and
// was taken by another instance is left alone.
func (c *Client) Unlock(ctx context.Context, name string) error {
	if err := unlockScript.Run(ctx, c.rdb, []string{c.lockKey(name)}, c.owner).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", name, err)
	}
	return nil
}
