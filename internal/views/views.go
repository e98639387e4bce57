// Package views names the rendered pages that depend on issue state and
// caches their payloads so mutations can invalidate them.
package views

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

func BoardPath(workspaceSlug, projectKey string) string {
	return fmt.Sprintf("/w/%s/projects/%s/board", workspaceSlug, projectKey)
}

func IssuePath(workspaceSlug, issueKey string) string {
	return fmt.Sprintf("/w/%s/issues/%s", workspaceSlug, issueKey)
}

// Cache stores rendered payloads keyed by view path.
type Cache interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	Set(ctx context.Context, path string, payload []byte)
	Invalidate(ctx context.Context, paths ...string)
}

// Noop caches nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Noop) Set(context.Context, string, []byte)        {}
func (Noop) Invalidate(context.Context, ...string)      {}

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "view:", ttl: ttl}
}

func (c *RedisCache) key(path string) string {
	return c.prefix + path
}

func (c *RedisCache) Get(ctx context.Context, path string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.key(path)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("views: get %s: %v", path, err)
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, path string, payload []byte) {
	if err := c.client.Set(ctx, c.key(path), payload, c.ttl).Err(); err != nil {
		log.Printf("views: set %s: %v", path, err)
	}
}

// Invalidate drops every distinct path in one round trip. Failures are logged.
func (c *RedisCache) Invalidate(ctx context.Context, paths ...string) {
	keys := make([]string, 0, len(paths))
	for _, path := range Distinct(paths) {
		keys = append(keys, c.key(path))
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("views: invalidate %v: %v", paths, err)
	}
}

// Distinct returns paths without duplicates, preserving first occurrence.
func Distinct(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}
