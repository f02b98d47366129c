package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Cache 嵌入向量缓存
// 同一模型对同一文本的向量只计算一次
type Cache interface {
	// Get 读取向量，未命中时found为false
	Get(ctx context.Context, key string) (vector []float32, found bool, err error)
	// Set 写入向量，ttl为0时使用默认有效期
	Set(ctx context.Context, key string, vector []float32, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear 清空本缓存命名空间内的所有向量
	Clear(ctx context.Context) error
	Close() error
}

// Factory 缓存构造函数
type Factory func(config Config) (Cache, error)

var backends = make(map[string]Factory)

// Register 注册缓存后端
func Register(name string, factory Factory) {
	backends[name] = factory
}

// NewCache 按类型创建缓存，类型为空时使用内存缓存
func NewCache(config Config) (Cache, error) {
	if config.Type == "" {
		config.Type = "memory"
	}
	factory, ok := backends[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
	return factory(config)
}

// Config 缓存配置
type Config struct {
	Type            string        // memory 或 redis
	Prefix          string        // Redis键前缀，多个进程共享Redis时用于隔离
	RedisAddr       string        // Redis地址
	RedisPassword   string        // Redis密码
	RedisDB         int           // Redis数据库编号
	DefaultTTL      time.Duration // 默认有效期
	CleanupInterval time.Duration // 内存缓存的过期清理间隔
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		Prefix:          "truthlens",
		DefaultTTL:      time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// VectorKey 由模型标识和文本生成缓存键
// 模型不同的向量互不覆盖
func VectorKey(model, text string) string {
	sum := sha1.Sum([]byte(text))
	return "embed:" + model + ":" + hex.EncodeToString(sum[:])
}

// cloneVector 复制向量，缓存内外不共享底层数组
func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
