package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const referenceKeyPrefix = "stockia:refimg:"

type RedisReferenceImageCache struct {
	client *redis.Client
}

func NewRedisReferenceImageCache(client *redis.Client) *RedisReferenceImageCache {
	return &RedisReferenceImageCache{client: client}
}

func (c *RedisReferenceImageCache) Get(ctx context.Context, query string) (string, bool, error) {
	val, err := c.client.Get(ctx, referenceKey(query)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisReferenceImageCache) Set(ctx context.Context, query string, imageURL string, ttl time.Duration) error {
	if imageURL == "" {
		return nil
	}
	return c.client.Set(ctx, referenceKey(query), imageURL, ttl).Err()
}

func referenceKey(query string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.Join(strings.Fields(query), " "))))
	return referenceKeyPrefix + hex.EncodeToString(sum[:])
}
