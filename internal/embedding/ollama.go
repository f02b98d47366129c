package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// DefaultOllamaModel Ollama默认嵌入模型
const DefaultOllamaModel = "nomic-embed-text"

// OllamaClient 通过langchaingo调用本地Ollama服务的嵌入客户端
type OllamaClient struct {
	embedder *embeddings.EmbedderImpl
	config   Config
}

// NewOllamaClient 创建Ollama嵌入客户端
// BaseURL为空时使用OLLAMA_HOST或默认地址
func NewOllamaClient(opts ...Option) (Client, error) {
	config := NewConfig(opts...)
	if config.Model == "" {
		config.Model = DefaultOllamaModel
	}

	llmOpts := []ollama.Option{ollama.WithModel(config.Model)}
	if config.BaseURL != "" {
		llmOpts = append(llmOpts, ollama.WithServerURL(config.BaseURL))
	}

	llm, err := ollama.New(llmOpts...)
	if err != nil {
		return nil, wrapError(ErrCodeConfiguration, "failed to initialize ollama client", err)
	}

	embedder, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, wrapError(ErrCodeConfiguration, "failed to create ollama embedder", err)
	}

	return &OllamaClient{embedder: embedder, config: *config}, nil
}

// Name 返回模型名称
func (c *OllamaClient) Name() string {
	return "ollama/" + c.config.Model
}

// Embed 生成单条文本的向量表示
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	callCtx, cancel := c.config.withTimeout(ctx)
	defer cancel()

	vector, err := c.embedder.EmbedQuery(callCtx, text)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return vector, nil
}

// EmbedBatch 批量生成向量表示
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
	}

	callCtx, cancel := c.config.withTimeout(ctx)
	defer cancel()

	vectors, err := c.embedder.EmbedDocuments(callCtx, texts)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if len(vectors) != len(texts) {
		return nil, NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(vectors)))
	}
	return vectors, nil
}

// 在包初始化时注册Ollama客户端
func init() {
	RegisterClient("ollama", NewOllamaClient)
}
