package cache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github-learning-scout/internal/port"

	"golang.org/x/sync/singleflight"
)

// 命名空间，避免 API 响应缓存与发现结果缓存之间的键冲突
const (
	NamespaceGitHubAPI   = "github_api"
	NamespaceDiscovery   = "github_discovery"
	NamespaceRepoQuality = "repo_quality"
)

// ResultCache 带命名空间的 TTL 键值缓存
// 值以 JSON 形式存储；后端故障只记录日志，不向调用方传播
type ResultCache struct {
	backend  port.CacheBackend
	inflight singleflight.Group
	logger   *slog.Logger
}

// New 创建缓存，logger 为 nil 时使用默认记录器
func New(backend port.CacheBackend, logger *slog.Logger) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{backend: backend, logger: logger}
}

// NewFromURL 根据连接串选择后端：redis:// 或 rediss:// 使用 Redis，其余使用内存
func NewFromURL(url string, logger *slog.Logger) (*ResultCache, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		backend, err := NewRedisBackendFromURL(url)
		if err != nil {
			return nil, err
		}
		return New(backend, logger), nil
	}
	return New(NewMemoryBackend(), logger), nil
}

// Ping 检查后端连通性，后端不支持时返回 nil
func (c *ResultCache) Ping(ctx context.Context) error {
	if p, ok := c.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close 释放后端持有的连接
func (c *ResultCache) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Key 拼接命名空间键 "{namespace}:{key}"
func Key(namespace, key string) string {
	return namespace + ":" + key
}

// Get 读取并反序列化到 dest，未命中或出错返回 false
func (c *ResultCache) Get(ctx context.Context, namespace, key string, dest any) bool {
	full := Key(namespace, key)
	raw, found, err := c.backend.Get(ctx, full)
	if err != nil {
		c.logger.Warn("cache get failed, treating as miss", "key", full, "error", err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("cache entry undecodable, treating as miss", "key", full, "error", err)
		return false
	}
	return true
}

// Set 序列化并写入，成功返回 true
func (c *ResultCache) Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) bool {
	full := Key(namespace, key)
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serializable", "key", full, "error", err)
		return false
	}
	if err := c.backend.Set(ctx, full, raw, ttl); err != nil {
		c.logger.Warn("cache set failed", "key", full, "error", err)
		return false
	}
	return true
}

// Delete 删除单个键
func (c *ResultCache) Delete(ctx context.Context, namespace, key string) bool {
	full := Key(namespace, key)
	if err := c.backend.Delete(ctx, full); err != nil {
		c.logger.Warn("cache delete failed", "key", full, "error", err)
		return false
	}
	return true
}

// InvalidatePattern 删除命名空间下匹配 glob 的所有键，返回删除数量
func (c *ResultCache) InvalidatePattern(ctx context.Context, namespace, glob string) int {
	pattern := Key(namespace, glob)
	keys, err := c.backend.Keys(ctx, pattern)
	if err != nil {
		c.logger.Warn("cache scan failed", "pattern", pattern, "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidate failed", "pattern", pattern, "error", err)
		return 0
	}
	c.logger.Debug("cache invalidated", "pattern", pattern, "count", len(keys))
	return len(keys)
}

// Debounced 合并同一 key 的并发调用：已有调用在进行中时等待其结果，而不是再次调用 fn
// 调用完成 (无论成功失败) 后 key 被释放；等待方的 ctx 取消时立即返回
func (c *ResultCache) Debounced(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := c.inflight.DoChan(key, fn)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("request coalesced", "key", key)
		}
		return res.Val, res.Err
	}
}
