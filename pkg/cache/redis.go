package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key does not exist
var ErrCacheMiss = errors.New("cache miss")

// releaseLockScript deletes the lock only when it is still held by the caller
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClient wraps go-redis with the JSON helpers, locks and counters used by the service
type RedisClient struct {
	client *redis.Client
	ready  atomic.Bool
}

// NewRedisClient connects to redisURL and verifies the connection
func NewRedisClient(redisURL string) (*RedisClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return newRedisClient(redis.NewClient(opts))
}

func newRedisClient(client *redis.Client) (*RedisClient, error) {
	c := &RedisClient{client: client}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.ready.Store(true)

	return c, nil
}

// IsReady reports whether the client has a live connection
func (c *RedisClient) IsReady() bool {
	return c != nil && c.ready.Load()
}

// Ping checks the connection and updates readiness
func (c *RedisClient) Ping(ctx context.Context) error {
	err := c.client.Ping(ctx).Err()
	c.ready.Store(err == nil)
	return err
}

func (c *RedisClient) Close() error {
	c.ready.Store(false)
	return c.client.Close()
}

// Get decodes the JSON value at key into dest
func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Set stores value as JSON at key
func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// AppendJSON pushes value onto the list at key and refreshes its TTL
func (c *RedisClient) AppendJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListRange returns the raw list entries at key in insertion order
func (c *RedisClient) ListRange(ctx context.Context, key string) ([]string, error) {
	return c.client.LRange(ctx, key, 0, -1).Result()
}

// AcquireLock sets key to value if it is not already held
func (c *RedisClient) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// ReleaseLock removes key only if it still holds value
func (c *RedisClient) ReleaseLock(ctx context.Context, key, value string) error {
	return releaseLockScript.Run(ctx, c.client, []string{key}, value).Err()
}
