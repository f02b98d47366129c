package embedding

import (
	"context"
	"time"

	"github.com/fyerfyer/truthlens-rag/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 带缓存的嵌入客户端
// 缓存键包含模型标识，切换模型不会命中旧向量
type CachedClient struct {
	inner  Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 为嵌入客户端包装一层缓存
func NewCachedClient(inner Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedClient{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// Name 返回底层模型标识
func (c *CachedClient) Name() string {
	return c.inner.Name()
}

// Embed 优先读取缓存，未命中时调用底层客户端
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.VectorKey(c.inner.Name(), text)
	if vector, ok := c.lookup(ctx, key); ok {
		return vector, nil
	}

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vector)
	return vector, nil
}

// EmbedBatch 只对未命中的文本调用底层客户端
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = cache.VectorKey(c.inner.Name(), text)
		if vector, ok := c.lookup(ctx, keys[i]); ok {
			vectors[i] = vector
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	fetched, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vectors[i] = fetched[j]
		c.store(ctx, keys[i], fetched[j])
	}
	return vectors, nil
}

// lookup 读取缓存，缓存故障只记录日志
func (c *CachedClient) lookup(ctx context.Context, key string) ([]float32, bool) {
	vector, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Embedding cache read failed")
		return nil, false
	}
	return vector, found
}

// store 写入缓存
func (c *CachedClient) store(ctx context.Context, key string, vector []float32) {
	if err := c.cache.Set(ctx, key, vector, c.ttl); err != nil {
		c.logger.WithError(err).Warn("Embedding cache write failed")
	}
}
