package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions 哈希嵌入的默认维度
const DefaultHashDimensions = 512

// stopWords 哈希嵌入忽略的常见词
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "should": {}, "that": {}, "the": {}, "this": {},
	"to": {}, "was": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"why": {}, "with": {}, "against": {},
}

// HashClient 基于特征哈希的本地嵌入客户端
// 结果只取决于文本本身，适合离线运行与测试
type HashClient struct {
	dimensions int
	model      string
}

// NewHashClient 创建哈希嵌入客户端
func NewHashClient(opts ...Option) (Client, error) {
	config := NewConfig(opts...)

	dims := config.Dimensions
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	model := config.Model
	if model == "" {
		model = fmt.Sprintf("hash-%d", dims)
	}

	return &HashClient{dimensions: dims, model: model}, nil
}

// Name 返回模型标识
func (c *HashClient) Name() string {
	return c.model
}

// Embed 生成单条文本的向量表示
func (c *HashClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(err)
	}
	return c.vectorize(text), nil
}

// EmbedBatch 批量生成向量表示
func (c *HashClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// vectorize 将词项哈希到固定维度并做L2归一化
func (c *HashClient) vectorize(text string) []float32 {
	vector := make([]float32, c.dimensions)
	for _, term := range Terms(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		vector[h.Sum32()%uint32(c.dimensions)]++
	}

	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}

// Terms 把文本切分为归一化的词项：小写、去停用词、去掉常见词尾
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		terms = append(terms, stem(f))
	}
	return terms
}

// stem 粗略的英文词干化
func stem(word string) string {
	switch {
	case len(word) > 5 && strings.HasSuffix(word, "ing"):
		return word[:len(word)-3]
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	default:
		return word
	}
}

// 在包初始化时注册哈希客户端
func init() {
	RegisterClient("hash", NewHashClient)
}
