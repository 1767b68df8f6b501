package mcp

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the cross-process Cache backing the Session Manager, so
// that auth state survives across Engine process restarts and is shared
// between concurrent instances serving the same user.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing redis client. prefix namespaces keys
// (e.g. "agentcore:mcp:auth:").
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "agentcore:mcp:auth:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(userID, mcpName string) string {
	return c.prefix + userID + ":" + mcpName
}

func (c *RedisCache) Get(ctx context.Context, userID, mcpName string) (AuthState, bool, error) {
	val, err := c.client.Get(ctx, c.key(userID, mcpName)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return AuthState(val), true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID, mcpName string, state AuthState, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(userID, mcpName), string(state), ttl).Err()
}
