package vectordb

import (
	"context"
	"errors"
	"testing"

	"github.com/fyerfyer/truthlens-rag/internal/document"
	"github.com/fyerfyer/truthlens-rag/internal/embedding"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testChunks 对三页测试文档分块
func testChunks(t *testing.T) []document.Chunk {
	t.Helper()
	doc := &document.Document{
		SourceID: "methodology.pdf",
		Pages: []document.Page{
			{Index: 0, Text: "Fact-checking requires primary sources. Secondary reporting is a lead, not proof."},
			{Index: 1, Text: "Always verify dates and names against originals.\n\nArchived copies help when pages change."},
			{Index: 2, Text: "Statistics need a denominator. Ask who collected the numbers and how."},
		},
	}
	splitter, err := document.NewTextSplitter(document.SplitterConfig{ChunkSize: 60, ChunkOverlap: 10})
	require.NoError(t, err)
	chunks, err := splitter.Split(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)
	return chunks
}

func hashEmbedder(t *testing.T) embedding.Client {
	t.Helper()
	client, err := embedding.NewClient("hash")
	require.NoError(t, err)
	return client
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// stubEmbedder 返回固定结果的嵌入器
type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[:len(texts)], nil
}

// TestBuildEmptyCorpus 测试空分块
func TestBuildEmptyCorpus(t *testing.T) {
	_, err := Build(context.Background(), nil, hashEmbedder(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEmptyCorpus))
	assert.Equal(t, 3, models.KindOf(err).ExitCode())
}

// TestBuildIdempotent 测试相同输入构建出相同的ID与排序
func TestBuildIdempotent(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks(t)
	embedder := hashEmbedder(t)

	first, err := Build(ctx, chunks, embedder, WithBatching(2, 3), WithChunking(60, 10), WithBuildLogger(quietLogger()))
	require.NoError(t, err)
	second, err := Build(ctx, chunks, embedder, WithBatching(5, 1), WithBuildLogger(quietLogger()))
	require.NoError(t, err)

	assert.Equal(t, len(chunks), first.Len())
	assert.Equal(t, embedder.Name(), first.Model())
	assert.Equal(t, 60, first.Info().ChunkSize)
	assert.Equal(t, []string{"methodology.pdf"}, first.Info().SourceIDs)

	for i, r := range first.Records() {
		assert.Equal(t, RecordID(chunks[i]), r.ID)
		assert.Equal(t, chunks[i].Text, r.Text)
		assert.Equal(t, chunks[i].Page, r.Page)
		assert.Equal(t, second.Records()[i].ID, r.ID)
	}

	query, err := embedder.Embed(ctx, "who collected the statistics")
	require.NoError(t, err)
	r1, err := first.Search(query, 3)
	require.NoError(t, err)
	r2, err := second.Search(query, 3)
	require.NoError(t, err)
	require.Len(t, r1, 3)
	for i := range r1 {
		assert.Equal(t, r1[i].Record.ID, r2[i].Record.ID)
	}
	assert.Equal(t, 2, r1[0].Record.Page)
}

// TestBuildEmbeddingFailure 测试嵌入失败直接返回
func TestBuildEmbeddingFailure(t *testing.T) {
	chunks := testChunks(t)

	failure := embedding.NewEmbeddingError(embedding.ErrCodeRateLimited, embedding.ErrMsgRateLimited)
	_, err := Build(context.Background(), chunks, &stubEmbedder{err: failure}, WithBuildLogger(quietLogger()))
	assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))

	_, err = Build(context.Background(), chunks, &stubEmbedder{err: errors.New("boom")}, WithBuildLogger(quietLogger()))
	assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))

	// 维度不一致的结果视为提供商错误
	vectors := make([][]float32, len(chunks))
	for i := range vectors {
		vectors[i] = []float32{1, 0}
	}
	vectors[1] = []float32{1, 0, 0}
	_, err = Build(context.Background(), chunks, &stubEmbedder{vectors: vectors}, WithBatching(100, 1), WithBuildLogger(quietLogger()))
	assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))
}

// TestRecordIDStable 测试记录ID只依赖分块内容
func TestRecordIDStable(t *testing.T) {
	c := document.Chunk{SourceID: "a.txt", Page: 1, Index: 4, Text: "hello"}
	assert.Equal(t, RecordID(c), RecordID(c))

	other := c
	other.Index = 5
	assert.NotEqual(t, RecordID(c), RecordID(other))
}
