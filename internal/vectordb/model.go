package vectordb

import (
	"context"
)

// Record 向量记录
// 由分块与其向量组成，ID在相同输入下保持稳定
type Record struct {
	ID         string    // 唯一标识符
	SourceID   string    // 来源文档标识
	Page       int       // 所在页码
	ChunkIndex int       // 文档内的分块序号
	Start      int       // 页内起始字符位置
	End        int       // 页内结束字符位置
	Text       string    // 原始文本内容
	Vector     []float32 // 向量表示
}

// SearchResult 搜索结果
type SearchResult struct {
	Record   Record  // 命中的记录
	Score    float32 // 余弦相似度
	Position int     // 记录在索引中的插入位置
}

// Embedder 构建索引所需的嵌入能力
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Info 索引的构建信息
type Info struct {
	Generation   string   // 构建代标识，未持久化时为空
	ModelID      string   // 嵌入模型标识
	Dimension    int      // 向量维度
	RecordCount  int      // 记录数量
	ChunkSize    int      // 分块大小
	ChunkOverlap int      // 分块重叠
	SourceIDs    []string // 来源文档

	Documents map[string]map[string]string // 来源文档的解析元数据
}
