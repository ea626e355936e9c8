package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend 进程内缓存后端，基于 go-cache
type MemoryBackend struct {
	inner *gocache.Cache
}

// NewMemoryBackend 创建内存后端，过期项每 10 分钟清理一次
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{inner: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := m.inner.Get(key)
	if !found {
		return nil, false, nil
	}
	b, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.inner.Set(key, value, ttl)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.inner.Delete(k)
	}
	return nil
}

// Keys 返回匹配 Redis 风格 glob 的未过期键
func (m *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	var keys []string
	// Items 只返回未过期项
	for k := range m.inner.Items() {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Flush 清空所有缓存项
func (m *MemoryBackend) Flush() {
	m.inner.Flush()
}
