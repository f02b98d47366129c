package vectordb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fyerfyer/truthlens-rag/internal/document"
	"github.com/fyerfyer/truthlens-rag/internal/embedding"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// recordNamespace 记录ID的UUIDv5命名空间
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("truthlens-rag/index-record"))

// buildOptions 构建配置
type buildOptions struct {
	batchSize    int
	workers      int
	chunkSize    int
	chunkOverlap int
	searcher     string
	documents    map[string]map[string]string
	logger       *logrus.Logger
}

// BuildOption 构建配置选项
type BuildOption func(*buildOptions)

// WithBatching 设置批大小与并行批次数
func WithBatching(batchSize, workers int) BuildOption {
	return func(o *buildOptions) {
		o.batchSize = batchSize
		o.workers = workers
	}
}

// WithChunking 记录分块参数，写入索引清单
func WithChunking(size, overlap int) BuildOption {
	return func(o *buildOptions) {
		o.chunkSize = size
		o.chunkOverlap = overlap
	}
}

// WithDocumentMeta 记录来源文档的解析元数据，写入索引清单
func WithDocumentMeta(sourceID string, meta map[string]string) BuildOption {
	return func(o *buildOptions) {
		if o.documents == nil {
			o.documents = make(map[string]map[string]string)
		}
		copied := make(map[string]string, len(meta))
		for k, v := range meta {
			copied[k] = v
		}
		o.documents[sourceID] = copied
	}
}

// WithBuildSearcher 指定构建出的索引使用的检索后端
func WithBuildSearcher(name string) BuildOption {
	return func(o *buildOptions) {
		o.searcher = name
	}
}

// WithBuildLogger 设置日志
func WithBuildLogger(logger *logrus.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// Build 为分块生成向量并创建内存索引
// 分块为空时返回EmptyCorpus，嵌入失败时不重试直接返回
func Build(ctx context.Context, chunks []document.Chunk, embedder Embedder, opts ...BuildOption) (*Index, error) {
	if len(chunks) == 0 {
		return nil, models.ErrEmptyCorpus
	}

	o := &buildOptions{batchSize: 16, workers: 4, searcher: "flat", logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(o)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	log := o.logger.WithFields(logrus.Fields{
		"model":  embedder.Name(),
		"chunks": len(chunks),
	})
	log.Info("Embedding chunks")

	processor := embedding.NewBatchProcessor(embedder, o.batchSize, o.workers,
		embedding.WithProgress(func(done, total int) {
			log.WithFields(logrus.Fields{"batch": done, "batches": total}).Debug("Embedded batch")
		}))

	vectors, err := processor.Process(ctx, texts)
	if err != nil {
		if models.KindOf(err) == models.KindInternal {
			return nil, models.NewError(models.KindEmbeddingProvider, "failed to embed chunks", err)
		}
		return nil, err
	}

	records := make([]Record, len(chunks))
	dimension := 0
	for i, c := range chunks {
		if i == 0 {
			dimension = len(vectors[i])
		}
		if len(vectors[i]) == 0 || len(vectors[i]) != dimension {
			return nil, models.Errorf(models.KindEmbeddingProvider,
				"embedding %d has dimension %d, expected %d", i, len(vectors[i]), dimension)
		}
		records[i] = Record{
			ID:         RecordID(c),
			SourceID:   c.SourceID,
			Page:       c.Page,
			ChunkIndex: c.Index,
			Start:      c.Start,
			End:        c.End,
			Text:       c.Text,
			Vector:     vectors[i],
		}
	}

	idx, err := NewIndex(embedder.Name(), records,
		WithSearcher(o.searcher),
		WithInfo(Info{ChunkSize: o.chunkSize, ChunkOverlap: o.chunkOverlap, Documents: o.documents}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	log.WithField("dimension", idx.Dimension()).Info("Index built")
	return idx, nil
}

// RecordID 根据分块内容生成稳定ID
func RecordID(c document.Chunk) string {
	name := c.SourceID + "|" + strconv.Itoa(c.Page) + "|" + strconv.Itoa(c.Index) + "|" + c.Text
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}
