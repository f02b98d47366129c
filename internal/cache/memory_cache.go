package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内向量缓存
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(config Config) (Cache, error) {
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &MemoryCache{items: gocache.New(ttl, interval)}, nil
}

// Get 读取向量
func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	value, found := m.items.Get(key)
	if !found {
		return nil, false, nil
	}
	vector, ok := value.([]float32)
	if !ok {
		return nil, false, nil
	}
	return cloneVector(vector), true, nil
}

// Set 写入向量
func (m *MemoryCache) Set(_ context.Context, key string, vector []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.items.Set(key, cloneVector(vector), ttl)
	return nil
}

// Delete 删除向量
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Clear 清空缓存
func (m *MemoryCache) Clear(_ context.Context) error {
	m.items.Flush()
	return nil
}

// Close 内存缓存无需释放资源
func (m *MemoryCache) Close() error {
	return nil
}

// Len 当前缓存的向量数量
func (m *MemoryCache) Len() int {
	return m.items.ItemCount()
}

func init() {
	Register("memory", NewMemoryCache)
}
