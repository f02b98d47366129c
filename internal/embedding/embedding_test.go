package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/truthlens-rag/internal/cache"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClient 记录调用次数的测试客户端
type countingClient struct {
	inner    Client
	calls    atomic.Int32
	texts    atomic.Int32
	failWith error
	mu       sync.Mutex
	batches  [][]string
}

func (c *countingClient) Name() string { return c.inner.Name() }

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	c.texts.Add(1)
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	c.mu.Lock()
	c.batches = append(c.batches, texts)
	c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.inner.EmbedBatch(ctx, texts)
}

func newHash(t *testing.T) Client {
	t.Helper()
	c, err := NewClient("hash")
	require.NoError(t, err)
	return c
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// TestHashClient 测试哈希嵌入的确定性与归一化
func TestHashClient(t *testing.T) {
	client := newHash(t)
	ctx := context.Background()

	assert.Equal(t, "hash-512", client.Name())

	v1, err := client.Embed(ctx, "Always verify dates and names against originals.")
	require.NoError(t, err)
	v2, err := client.Embed(ctx, "Always verify dates and names against originals.")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, DefaultHashDimensions)
	assert.InDelta(t, 1.0, math.Sqrt(dot(v1, v1)), 1e-5)

	query, err := client.Embed(ctx, "how to verify a date")
	require.NoError(t, err)
	other, err := client.Embed(ctx, "Fact-checking requires primary sources.")
	require.NoError(t, err)
	assert.Greater(t, dot(query, v1), dot(query, other))

	_, err = client.Embed(ctx, "")
	assert.Equal(t, models.KindInvalidArgument, models.KindOf(err))

	custom, err := NewClient("hash", WithDimensions(64), WithModel("hash-test"))
	require.NoError(t, err)
	v, err := custom.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, v, 64)
	assert.Equal(t, "hash-test", custom.Name())
}

// TestTerms 测试词项归一化
func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"verify", "date"}, Terms("How to verify a date?"))
	assert.Equal(t, []string{"fact", "check", "require", "primary", "source"},
		Terms("Fact-checking requires primary sources."))
	assert.Equal(t, []string{"policy", "class"}, Terms("policies class"))
}

// TestNewClientUnknown 测试未注册的提供商
func TestNewClientUnknown(t *testing.T) {
	_, err := NewClient("nope")
	require.Error(t, err)
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))
	assert.Contains(t, Providers(), "openai")
	assert.Contains(t, Providers(), "ollama")
	assert.Contains(t, Providers(), "hash")
}

// TestBatchProcessorKeepsOrder 测试批处理保持输入顺序
func TestBatchProcessorKeepsOrder(t *testing.T) {
	inner := &countingClient{inner: newHash(t)}
	var progress []int
	var mu sync.Mutex
	processor := NewBatchProcessor(inner, 3, 4, WithProgress(func(done, total int) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
		assert.Equal(t, 4, total)
	}))

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d about topic%d", i, i)
	}

	vectors, err := processor.Process(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	direct := newHash(t)
	for i, text := range texts {
		want, _ := direct.Embed(context.Background(), text)
		assert.Equal(t, want, vectors[i], "vector %d out of order", i)
	}
	assert.Equal(t, int32(4), inner.calls.Load())
	assert.Len(t, progress, 4)

	empty, err := processor.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestBatchProcessorFailsWithoutRetry 测试批处理失败时不重试
func TestBatchProcessorFailsWithoutRetry(t *testing.T) {
	failure := wrapError(ErrCodeRateLimited, ErrMsgRateLimited, errors.New("429"))
	inner := &countingClient{inner: newHash(t), failWith: failure}
	processor := NewBatchProcessor(inner, 2, 1)

	_, err := processor.Process(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.Error(t, err)
	assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))
	// 单个工作线程下，第一批失败后取消剩余批次
	assert.Equal(t, int32(1), inner.calls.Load())
}

// TestCachedClient 测试嵌入缓存
func TestCachedClient(t *testing.T) {
	mem, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)
	inner := &countingClient{inner: newHash(t)}
	client := NewCachedClient(inner, mem, time.Minute, nil)
	ctx := context.Background()

	assert.Equal(t, "hash-512", client.Name())

	v1, err := client.Embed(ctx, "verify the date")
	require.NoError(t, err)
	v2, err := client.Embed(ctx, "verify the date")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())

	vectors, err := client.EmbedBatch(ctx, []string{"verify the date", "check the name"})
	require.NoError(t, err)
	assert.Equal(t, v1, vectors[0])
	assert.Len(t, vectors[1], DefaultHashDimensions)
	// 只有未命中的文本会发送给底层客户端
	assert.Equal(t, []string{"check the name"}, inner.batches[0])
	assert.Equal(t, int32(2), inner.texts.Load())
}

// TestCachedClientPropagatesErrors 测试缓存不掩盖底层错误
func TestCachedClientPropagatesErrors(t *testing.T) {
	mem, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)
	inner := &countingClient{inner: newHash(t), failWith: wrapError(ErrCodeNetworkError, ErrMsgNetworkError, errors.New("dial"))}
	client := NewCachedClient(inner, mem, time.Minute, nil)

	_, err = client.Embed(context.Background(), "text")
	assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))
	_, err = client.EmbedBatch(context.Background(), []string{"text"})
	assert.Error(t, err)
}

// openAIServer 模拟OpenAI嵌入接口，按逆序返回数据以验证Index还原
func openAIServer(t *testing.T, status int, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"error","code":"x"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), float32(len(req.Input[i]))},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// TestOpenAIClient 测试OpenAI客户端的请求与结果顺序
func TestOpenAIClient(t *testing.T) {
	srv, hits := openAIServer(t, http.StatusOK, 0)
	client, err := NewClient("openai", WithAPIKey("test-key"), WithBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, client.Name())

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 3}, {2, 2}}, vectors)

	v, err := client.Embed(context.Background(), "dddd")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 4}, v)
	assert.Equal(t, int32(2), hits.Load())
}

// TestOpenAIClientErrors 测试OpenAI错误分类且不重试
func TestOpenAIClientErrors(t *testing.T) {
	_, err := NewClient("openai")
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))

	tests := []struct {
		status int
		code   int
	}{
		{http.StatusUnauthorized, ErrCodeInvalidAPIKey},
		{http.StatusTooManyRequests, ErrCodeRateLimited},
		{http.StatusInternalServerError, ErrCodeServerError},
		{http.StatusBadRequest, ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		srv, hits := openAIServer(t, tt.status, 0)
		client, err := NewClient("openai", WithAPIKey("test-key"), WithBaseURL(srv.URL+"/v1"))
		require.NoError(t, err)

		_, err = client.Embed(context.Background(), "claim")
		require.Error(t, err)

		var embErr *EmbeddingError
		require.True(t, errors.As(err, &embErr), "status %d", tt.status)
		assert.Equal(t, tt.code, embErr.Code, "status %d", tt.status)
		assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))
		assert.Equal(t, int32(1), hits.Load(), "no retry for status %d", tt.status)
	}
}

// TestOpenAIClientTimeout 测试超时直接返回错误
func TestOpenAIClientTimeout(t *testing.T) {
	srv, hits := openAIServer(t, http.StatusOK, 300*time.Millisecond)
	client, err := NewClient("openai",
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL+"/v1"),
		WithTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "claim")
	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, ErrCodeTimeout, embErr.Code)
	assert.Equal(t, models.KindEmbeddingProvider, models.KindOf(err))
	assert.Equal(t, int32(1), hits.Load())
}
