package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// clearBatch Clear每次删除的键数量
const clearBatch = 100

// RedisCache 基于Redis的向量缓存，多个进程可共享
// 向量以小端float32字节串存储，键都带有配置的前缀
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache 连接Redis并创建缓存
func NewRedisCache(config Config) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}

	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, prefix: config.Prefix, ttl: ttl}, nil
}

func (r *RedisCache) redisKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Get 读取向量，内容损坏时视为未命中并返回错误
func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(data)%4 != 0 {
		return nil, false, fmt.Errorf("cached vector %s has invalid length %d", key, len(data))
	}

	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, true, nil
}

// Set 写入向量
func (r *RedisCache) Set(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	data := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return r.client.Set(ctx, r.redisKey(key), data, ttl).Err()
}

// Delete 删除向量
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}

// Clear 删除前缀下的所有键，未配置前缀时清空当前数据库
// 先扫描出全部键再批量删除，扫描过程中不修改键空间
func (r *RedisCache) Clear(ctx context.Context) error {
	if r.prefix == "" {
		return r.client.FlushDB(ctx).Err()
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+":*", clearBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	for start := 0; start < len(keys); start += clearBatch {
		end := start + clearBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func init() {
	Register("redis", NewRedisCache)
}
