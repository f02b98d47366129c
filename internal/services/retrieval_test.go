package services

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/fyerfyer/truthlens-rag/internal/document"
	"github.com/fyerfyer/truthlens-rag/internal/embedding"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/vectordb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoPageText = "Fact-checking requires primary sources.\fAlways verify dates and names against originals."

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func hashClient(t *testing.T, opts ...embedding.Option) embedding.Client {
	t.Helper()
	client, err := embedding.NewClient("hash", opts...)
	require.NoError(t, err)
	return client
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newBuilder 创建使用哈希嵌入的构建服务
func newBuilder(t *testing.T, size, overlap int, opts ...BuildOption) *BuildService {
	t.Helper()
	splitter, err := document.NewTextSplitter(document.SplitterConfig{ChunkSize: size, ChunkOverlap: overlap})
	require.NoError(t, err)
	opts = append([]BuildOption{WithBuildLogger(quietLogger()), WithSmokeQuery("", 0)}, opts...)
	return NewBuildService(splitter, hashClient(t), opts...)
}

// TestEndToEndVerifyDate 构建两页文档后检索日期核实方法
func TestEndToEndVerifyDate(t *testing.T) {
	ctx := context.Background()
	location := filepath.Join(t.TempDir(), "index")

	result, err := newBuilder(t, 50, 10).Build(ctx, BuildRequest{
		DocPath:       writeDoc(t, "methodology.txt", twoPageText),
		IndexLocation: location,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Chunks, 2)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, "hash-512", result.ModelID)

	store := vectordb.NewStore(location, vectordb.WithStoreLogger(quietLogger()))
	retriever := NewRetrievalService(hashClient(t), store, WithRetrievalLogger(quietLogger()))

	text, err := retriever.GetContext(ctx, "how to verify a date", 1)
	require.NoError(t, err)
	assert.Equal(t, "Research Methodology Context:\n\n1. Always verify dates and names against originals.\n\n", text)

	results, err := retriever.Retrieve(ctx, "how to verify a date", 5)
	require.NoError(t, err)
	require.Len(t, results, result.Chunks)
	assert.Equal(t, 1, results[0].Record.Page)
	assert.Equal(t, "methodology.txt", results[0].Record.SourceID)
}

// TestRetrieveNeverBuilt 未构建的索引返回IndexNotFound而不是空上下文
func TestRetrieveNeverBuilt(t *testing.T) {
	store := vectordb.NewStore(filepath.Join(t.TempDir(), "nothing"), vectordb.WithStoreLogger(quietLogger()))
	retriever := NewRetrievalService(hashClient(t), store, WithRetrievalLogger(quietLogger()))

	text, err := retriever.GetContext(context.Background(), "how to verify a date", 3)
	require.Error(t, err)
	assert.Empty(t, text)
	assert.Equal(t, models.KindIndexNotFound, models.KindOf(err))

	_, err = NewRetrievalService(hashClient(t), nil).Retrieve(context.Background(), "claim", 1)
	assert.Equal(t, models.KindIndexNotFound, models.KindOf(err))
}

// TestRetrieveInvalidArguments 测试参数校验
func TestRetrieveInvalidArguments(t *testing.T) {
	idx := buildIndex(t)
	retriever := NewRetrievalService(hashClient(t), nil, WithIndex(idx))

	_, err := retriever.GetContext(context.Background(), "   ", 3)
	assert.Equal(t, models.KindInvalidArgument, models.KindOf(err))

	_, err = retriever.GetContext(context.Background(), "verify", 0)
	assert.Equal(t, models.KindInvalidArgument, models.KindOf(err))
	assert.Equal(t, 6, models.KindOf(err).ExitCode())
}

// TestRetrieveModelMismatch 测试嵌入模型不一致
func TestRetrieveModelMismatch(t *testing.T) {
	idx := buildIndex(t)
	other := hashClient(t, embedding.WithDimensions(64))
	retriever := NewRetrievalService(other, nil, WithIndex(idx))

	_, err := retriever.GetContext(context.Background(), "verify dates", 3)
	require.Error(t, err)
	assert.Equal(t, models.KindModelMismatch, models.KindOf(err))
	assert.Contains(t, err.Error(), "hash-512")
	assert.Contains(t, err.Error(), "hash-64")
}

// failingEmbedder 查询时嵌入失败
type failingEmbedder struct {
	embedding.Client
}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, embedding.NewEmbeddingError(embedding.ErrCodeTimeout, embedding.ErrMsgTimeout)
}

// TestRetrieveEmbeddingFailure 测试查询嵌入失败
func TestRetrieveEmbeddingFailure(t *testing.T) {
	idx := buildIndex(t)
	retriever := NewRetrievalService(&failingEmbedder{Client: hashClient(t)}, nil, WithIndex(idx))

	_, err := retriever.GetContext(context.Background(), "verify dates", 3)
	assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))
	assert.Equal(t, 5, models.KindOf(err).ExitCode())
}

// TestReloadSwapsSnapshot 测试重建后重新加载才切换快照
func TestReloadSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	location := filepath.Join(t.TempDir(), "index")
	builder := newBuilder(t, 100, 20)

	first, err := builder.Build(ctx, BuildRequest{DocPath: writeDoc(t, "a.txt", twoPageText), IndexLocation: location})
	require.NoError(t, err)

	store := vectordb.NewStore(location, vectordb.WithStoreLogger(quietLogger()))
	retriever := NewRetrievalService(hashClient(t), store, WithRetrievalLogger(quietLogger()))
	info, err := retriever.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Generation, info.Generation)

	second, err := builder.Build(ctx, BuildRequest{
		DocPath:       writeDoc(t, "b.md", "# Numbers\n\nStatistics need a denominator."),
		IndexLocation: location,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.Generation, second.Generation)

	// 旧快照仍在使用
	results, err := retriever.Retrieve(ctx, "statistics denominator", 1)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", results[0].Record.SourceID)
	assert.Equal(t, first.Generation, retriever.Index().Generation())

	info, err = retriever.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Generation, info.Generation)

	results, err = retriever.Retrieve(ctx, "statistics denominator", 1)
	require.NoError(t, err)
	assert.Equal(t, "b.md", results[0].Record.SourceID)

	_, err = NewRetrievalService(hashClient(t), nil).Reload(ctx)
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))
}

// TestFormatContext 测试上下文格式
func TestFormatContext(t *testing.T) {
	assert.Equal(t, NoContextMessage, FormatContext(nil))

	text := FormatContext([]vectordb.SearchResult{
		{Record: vectordb.Record{Text: "first"}},
		{Record: vectordb.Record{Text: "second"}},
	})
	assert.Equal(t, "Research Methodology Context:\n\n1. first\n\n2. second\n\n", text)
}

// buildIndex 构建内存中的测试索引
func buildIndex(t *testing.T) *vectordb.Index {
	t.Helper()
	doc, err := document.Load(writeDoc(t, "methodology.txt", twoPageText))
	require.NoError(t, err)
	splitter, err := document.NewTextSplitter(document.SplitterConfig{ChunkSize: 50, ChunkOverlap: 10})
	require.NoError(t, err)
	chunks, err := splitter.Split(doc)
	require.NoError(t, err)

	idx, err := vectordb.Build(context.Background(), chunks, hashClient(t), vectordb.WithBuildLogger(quietLogger()))
	require.NoError(t, err)
	return idx
}

// closeCounter 记录关闭次数的检索后端
type closeCounter struct {
	vectordb.Searcher
	closed *atomic.Int32
}

func (c closeCounter) Close() error {
	c.closed.Add(1)
	return c.Searcher.Close()
}

// TestReloadClosesRetiredSnapshot 测试被替换的快照在最后一个查询结束后关闭
func TestReloadClosesRetiredSnapshot(t *testing.T) {
	ctx := context.Background()
	location := filepath.Join(t.TempDir(), "index")
	_, err := newBuilder(t, 100, 20).Build(ctx, BuildRequest{DocPath: writeDoc(t, "a.txt", twoPageText), IndexLocation: location})
	require.NoError(t, err)

	var closed atomic.Int32
	vectordb.RegisterSearcher("close-counter", func(vectors [][]float32, dimension int) (vectordb.Searcher, error) {
		inner, err := vectordb.NewFlatSearcher(vectors, dimension)
		if err != nil {
			return nil, err
		}
		return closeCounter{Searcher: inner, closed: &closed}, nil
	})

	store := vectordb.NewStore(location, vectordb.WithStoreSearcher("close-counter"), vectordb.WithStoreLogger(quietLogger()))
	retriever := NewRetrievalService(hashClient(t), store, WithRetrievalLogger(quietLogger()))

	_, err = retriever.Retrieve(ctx, "verify dates", 1)
	require.NoError(t, err)

	// 查询进行中替换快照，旧索引保持可用
	pinned, err := retriever.acquire(ctx)
	require.NoError(t, err)
	_, err = retriever.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), closed.Load())

	_, err = pinned.idx.Search(make([]float32, pinned.idx.Dimension()), 1)
	require.NoError(t, err)

	pinned.release()
	assert.Equal(t, int32(1), closed.Load())

	// 没有查询引用时立即关闭
	_, err = retriever.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), closed.Load())

	_, err = retriever.Retrieve(ctx, "verify dates", 1)
	require.NoError(t, err)
}
