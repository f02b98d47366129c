package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/truthlens-rag/internal/document"
	"github.com/fyerfyer/truthlens-rag/internal/embedding"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/vectordb"
	"github.com/fyerfyer/truthlens-rag/pkg/storage"
	"github.com/fyerfyer/truthlens-rag/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// BuildRequest 索引构建请求
// DocumentID指向文档存储中的文件，为空时读取DocPath
type BuildRequest struct {
	DocPath       string // 本地文档路径
	DocumentID    string // 文档存储中的文件ID
	IndexLocation string // 索引目录
}

// BuildResult 索引构建结果
type BuildResult struct {
	Generation string                  // 新构建代
	SourceID   string                  // 来源文档
	Pages      int                     // 页数
	Chunks     int                     // 分块数量
	ModelID    string                  // 嵌入模型
	Dimension  int                     // 向量维度
	Duration   time.Duration           // 耗时
	Smoke      []vectordb.SearchResult // 自检查询的结果
}

// BuildService 索引构建服务
// 依次完成文档加载、分块、嵌入、持久化
type BuildService struct {
	splitter   *document.TextSplitter // 分块器
	embedder   embedding.Client       // 嵌入模型客户端
	storage    storage.Storage        // 文档存储，可选
	batchSize  int                    // 嵌入批大小
	workers    int                    // 并行批次数
	searcher   string                 // 检索后端
	keep       int                    // 保留的构建代数量
	smokeQuery string                 // 构建后的自检查询
	smokeK     int                    // 自检查询返回数量
	logger     *logrus.Logger         // 日志记录器
}

var _ taskqueue.Handler = (*BuildService)(nil)

// BuildOption 构建服务配置选项
type BuildOption func(*BuildService)

// WithStorage 设置文档存储
func WithStorage(s storage.Storage) BuildOption {
	return func(b *BuildService) {
		b.storage = s
	}
}

// WithBatching 设置嵌入批大小与并行批次数
func WithBatching(batchSize, workers int) BuildOption {
	return func(b *BuildService) {
		b.batchSize = batchSize
		b.workers = workers
	}
}

// WithSearcher 设置检索后端
func WithSearcher(name string) BuildOption {
	return func(b *BuildService) {
		b.searcher = name
	}
}

// WithKeepGenerations 设置保留的构建代数量
func WithKeepGenerations(n int) BuildOption {
	return func(b *BuildService) {
		b.keep = n
	}
}

// WithSmokeQuery 设置构建完成后的自检查询，query为空时跳过
func WithSmokeQuery(query string, k int) BuildOption {
	return func(b *BuildService) {
		b.smokeQuery = query
		b.smokeK = k
	}
}

// WithBuildLogger 设置日志记录器
func WithBuildLogger(logger *logrus.Logger) BuildOption {
	return func(b *BuildService) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuildService 创建索引构建服务
func NewBuildService(splitter *document.TextSplitter, embedder embedding.Client, opts ...BuildOption) *BuildService {
	b := &BuildService{
		splitter:  splitter,
		embedder:  embedder,
		batchSize: 16,
		workers:   4,
		searcher:  "flat",
		keep:      vectordb.DefaultKeepGenerations,
		smokeK:    DefaultTopK,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 构建索引并发布为新的构建代
func (b *BuildService) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	start := time.Now()
	if req.IndexLocation == "" {
		return nil, models.Errorf(models.KindConfiguration, "index location is required")
	}

	doc, err := b.loadDocument(req)
	if err != nil {
		return nil, err
	}

	log := b.logger.WithFields(logrus.Fields{
		"source":   doc.SourceID,
		"pages":    len(doc.Pages),
		"location": req.IndexLocation,
	})
	log.Info("Starting index build")

	chunks, err := b.splitter.Split(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to split document: %w", err)
	}
	if len(chunks) == 0 {
		return nil, models.Errorf(models.KindEmptyCorpus, "document %s produced no chunks", doc.SourceID)
	}
	log.WithField("chunks", len(chunks)).Info("Document split")

	cfg := b.splitter.Config()
	idx, err := vectordb.Build(ctx, chunks, b.embedder,
		vectordb.WithBatching(b.batchSize, b.workers),
		vectordb.WithChunking(cfg.ChunkSize, cfg.ChunkOverlap),
		vectordb.WithBuildSearcher(b.searcher),
		vectordb.WithDocumentMeta(doc.SourceID, doc.Meta),
		vectordb.WithBuildLogger(b.logger),
	)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	store := vectordb.NewStore(req.IndexLocation,
		vectordb.WithKeepGenerations(b.keep),
		vectordb.WithStoreSearcher(b.searcher),
		vectordb.WithStoreLogger(b.logger),
	)
	gen, err := store.Save(ctx, idx)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{
		Generation: gen,
		SourceID:   doc.SourceID,
		Pages:      len(doc.Pages),
		Chunks:     len(chunks),
		ModelID:    idx.Model(),
		Dimension:  idx.Dimension(),
	}
	result.Smoke = b.smokeTest(ctx, idx)
	result.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"generation": gen,
		"chunks":     result.Chunks,
		"dimension":  result.Dimension,
		"duration":   result.Duration.String(),
	}).Info("Index build completed")
	return result, nil
}

// loadDocument 从文档存储或本地路径加载文档
func (b *BuildService) loadDocument(req BuildRequest) (*document.Document, error) {
	if req.DocumentID == "" {
		if req.DocPath == "" {
			return nil, models.Errorf(models.KindConfiguration, "document path is required")
		}
		return document.Load(req.DocPath)
	}

	if b.storage == nil {
		return nil, models.Errorf(models.KindConfiguration, "document storage is not configured")
	}
	reader, info, err := b.storage.Get(req.DocumentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.NewError(models.KindConfiguration, "document "+req.DocumentID+" not found", err)
		}
		return nil, fmt.Errorf("failed to get document from storage: %w", err)
	}
	defer reader.Close()

	parser, err := document.ParserFactory(info.Name)
	if err != nil {
		return nil, err
	}
	return parser.ParseReader(reader, info.Name)
}

// smokeTest 对新索引执行一次自检查询并记录结果
// 自检失败只记录日志
func (b *BuildService) smokeTest(ctx context.Context, idx *vectordb.Index) []vectordb.SearchResult {
	if b.smokeQuery == "" {
		return nil
	}

	retriever := NewRetrievalService(b.embedder, nil, WithIndex(idx), WithRetrievalLogger(b.logger))
	results, err := retriever.Retrieve(ctx, b.smokeQuery, b.smokeK)
	if err != nil {
		b.logger.WithError(err).WithField("query", b.smokeQuery).Warn("Smoke query failed")
		return nil
	}

	for i, r := range results {
		b.logger.WithFields(logrus.Fields{
			"query":  b.smokeQuery,
			"rank":   i + 1,
			"score":  r.Score,
			"source": r.Record.SourceID,
			"page":   r.Record.Page,
		}).Info("Smoke query result")
	}
	return results
}

// ProcessTask 处理队列中的索引重建任务
func (b *BuildService) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.BuildPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, models.NewError(models.KindInvalidArgument, "invalid build task payload", err)
	}

	result, err := b.Build(ctx, BuildRequest{
		DocPath:       payload.DocPath,
		DocumentID:    payload.DocumentID,
		IndexLocation: payload.IndexLocation,
	})
	if err != nil {
		return nil, err
	}

	return &taskqueue.BuildResult{
		Generation: result.Generation,
		SourceID:   result.SourceID,
		Pages:      result.Pages,
		Chunks:     result.Chunks,
		ModelID:    result.ModelID,
		Dimension:  result.Dimension,
	}, nil
}
