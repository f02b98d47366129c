package main

import (
	"os"

	"github.com/fyerfyer/truthlens-rag/api/middleware"
	"github.com/fyerfyer/truthlens-rag/config"
	"github.com/fyerfyer/truthlens-rag/internal/cache"
	"github.com/fyerfyer/truthlens-rag/internal/document"
	"github.com/fyerfyer/truthlens-rag/internal/embedding"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/services"
	"github.com/fyerfyer/truthlens-rag/internal/vectordb"
	"github.com/fyerfyer/truthlens-rag/pkg/storage"
	"github.com/fyerfyer/truthlens-rag/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// app 各子命令共享的组件
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	embedder embedding.Client
	closers  []func() error
}

// newApp 加载配置并初始化日志与嵌入客户端
// override在校验前修改配置，用于应用命令行参数
func newApp(configPath string, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := setupLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	embedder, err := a.setupEmbedding()
	if err != nil {
		return nil, err
	}
	a.embedder = embedder
	return a, nil
}

// close 释放已创建的资源
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
}

// setupLogger 设置日志系统
func setupLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	if err := middleware.ConfigureLogger(cfg); err != nil {
		return nil, models.NewError(models.KindConfiguration, "invalid log configuration", err)
	}
	return middleware.GetLogger(), nil
}

// setupEmbedding 按配置创建嵌入客户端，启用缓存时包装查询向量缓存
func (a *app) setupEmbedding() (embedding.Client, error) {
	cfg := a.cfg.Embed
	client, err := embedding.NewClient(cfg.Provider,
		embedding.WithAPIKey(cfg.APIKey),
		embedding.WithBaseURL(cfg.Endpoint),
		embedding.WithModel(cfg.Model),
		embedding.WithTimeout(cfg.Timeout),
		embedding.WithDimensions(cfg.Dimensions),
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, err
	}

	if !a.cfg.Cache.Enable {
		return client, nil
	}

	c, err := a.setupCache()
	if err != nil {
		// 缓存不可用时直接使用底层客户端
		a.logger.WithError(err).Warn("Embedding cache unavailable, continuing without cache")
		return client, nil
	}
	a.closers = append(a.closers, c.Close)
	return embedding.NewCachedClient(client, c, a.cfg.Cache.TTL, a.logger), nil
}

// setupCache 设置缓存服务
func (a *app) setupCache() (cache.Cache, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = a.cfg.Cache.Type
	cacheConfig.DefaultTTL = a.cfg.Cache.TTL
	if a.cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = a.cfg.Cache.Address
		cacheConfig.RedisPassword = a.cfg.Cache.Password
		cacheConfig.RedisDB = a.cfg.Cache.DB
	}
	return cache.NewCache(cacheConfig)
}

// setupStorage 设置参考文档存储
func (a *app) setupStorage() (storage.Storage, error) {
	cfg := a.cfg.Storage
	if cfg.Type == "local" {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, models.NewError(models.KindConfiguration, "failed to create storage directory", err)
		}
	}

	s, err := storage.New(storage.Config{
		Type:  cfg.Type,
		Local: storage.LocalConfig{Path: cfg.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		},
	})
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "failed to initialize document storage", err)
	}
	return s, nil
}

// setupTaskQueue 设置任务队列
func (a *app) setupTaskQueue() (*taskqueue.RedisQueue, error) {
	cfg := a.cfg.Queue
	queueConfig := taskqueue.DefaultConfig()
	queueConfig.RedisAddr = cfg.RedisAddr
	queueConfig.RedisPassword = cfg.RedisPassword
	queueConfig.RedisDB = cfg.RedisDB
	if cfg.Concurrency > 0 {
		queueConfig.Concurrency = cfg.Concurrency
	}
	if cfg.TaskTimeout > 0 {
		queueConfig.TaskTimeout = cfg.TaskTimeout
	}

	a.logger.WithFields(logrus.Fields{
		"redis_addr":  queueConfig.RedisAddr,
		"concurrency": queueConfig.Concurrency,
	}).Info("Setting up task queue")

	queue, err := taskqueue.NewRedisQueue(queueConfig, a.logger)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "failed to initialize task queue", err)
	}
	a.closers = append(a.closers, queue.Close)
	return queue, nil
}

// newBuildService 按配置创建索引构建服务
func (a *app) newBuildService(docStorage storage.Storage) (*services.BuildService, error) {
	splitter, err := document.NewTextSplitter(document.SplitterConfig{
		ChunkSize:    a.cfg.Document.ChunkSize,
		ChunkOverlap: a.cfg.Document.ChunkOverlap,
	})
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "invalid chunking configuration", err)
	}

	opts := []services.BuildOption{
		services.WithBatching(a.cfg.Embed.BatchSize, a.cfg.Embed.Workers),
		services.WithSearcher(a.cfg.Index.Searcher),
		services.WithKeepGenerations(a.cfg.Index.KeepGenerations),
		services.WithSmokeQuery(a.cfg.Index.SmokeQuery, a.cfg.Retrieval.TopK),
		services.WithBuildLogger(a.logger),
	}
	if docStorage != nil {
		opts = append(opts, services.WithStorage(docStorage))
	}
	return services.NewBuildService(splitter, a.embedder, opts...), nil
}

// newRetrievalService 按配置创建检索服务
func (a *app) newRetrievalService() *services.RetrievalService {
	store := vectordb.NewStore(a.cfg.Index.Location,
		vectordb.WithKeepGenerations(a.cfg.Index.KeepGenerations),
		vectordb.WithStoreSearcher(a.cfg.Index.Searcher),
		vectordb.WithStoreLogger(a.logger),
	)
	return services.NewRetrievalService(a.embedder, store,
		services.WithDefaultK(a.cfg.Retrieval.TopK),
		services.WithRetrievalLogger(a.logger),
	)
}
