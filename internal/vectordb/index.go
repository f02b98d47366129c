package vectordb

import (
	"fmt"

	"github.com/fyerfyer/truthlens-rag/internal/models"
)

// Index 向量索引
// 加载或构建完成后只读，可被多个查询并发使用
type Index struct {
	info     Info
	records  []Record
	searcher Searcher
	backend  string
}

// IndexOption 索引配置选项
type IndexOption func(*Index)

// WithSearcher 指定检索后端，默认flat
func WithSearcher(name string) IndexOption {
	return func(idx *Index) {
		idx.backend = name
	}
}

// WithInfo 设置构建信息
func WithInfo(info Info) IndexOption {
	return func(idx *Index) {
		idx.info = info
	}
}

// NewIndex 由按插入顺序排列的记录创建索引
func NewIndex(modelID string, records []Record, opts ...IndexOption) (*Index, error) {
	if len(records) == 0 {
		return nil, models.ErrEmptyCorpus
	}

	idx := &Index{backend: "flat"}
	for _, opt := range opts {
		opt(idx)
	}

	dimension := len(records[0].Vector)
	vectors := make([][]float32, len(records))
	sources := make([]string, 0, 1)
	seen := make(map[string]bool)
	for i, rec := range records {
		if len(rec.Vector) == 0 || len(rec.Vector) != dimension {
			return nil, fmt.Errorf("record %d has dimension %d, expected %d", i, len(rec.Vector), dimension)
		}
		vectors[i] = rec.Vector
		if !seen[rec.SourceID] {
			seen[rec.SourceID] = true
			sources = append(sources, rec.SourceID)
		}
	}

	searcher, err := NewSearcher(idx.backend, vectors, dimension)
	if err != nil {
		return nil, err
	}

	idx.records = records
	idx.searcher = searcher
	idx.info.ModelID = modelID
	idx.info.Dimension = dimension
	idx.info.RecordCount = len(records)
	if len(idx.info.SourceIDs) == 0 {
		idx.info.SourceIDs = sources
	}
	return idx, nil
}

// Search 返回与查询向量最相似的前k条记录
// 相似度相同时先插入的记录排在前面，记录不足k条时全部返回
func (idx *Index) Search(query []float32, k int) ([]SearchResult, error) {
	if k < 1 {
		return nil, models.Errorf(models.KindInvalidArgument, "k must be >= 1, got %d", k)
	}
	if err := ValidateVector(query, idx.info.Dimension); err != nil {
		return nil, err
	}

	hits, err := idx.searcher.Search(query, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchResult{
			Record:   idx.records[hit.Position],
			Score:    hit.Score,
			Position: hit.Position,
		})
	}
	return results, nil
}

// Info 返回构建信息
func (idx *Index) Info() Info {
	return idx.info
}

// Model 返回嵌入模型标识
func (idx *Index) Model() string {
	return idx.info.ModelID
}

// Dimension 返回向量维度
func (idx *Index) Dimension() int {
	return idx.info.Dimension
}

// Generation 返回构建代标识
func (idx *Index) Generation() string {
	return idx.info.Generation
}

// Len 返回记录数量
func (idx *Index) Len() int {
	return len(idx.records)
}

// Records 按插入顺序返回所有记录
func (idx *Index) Records() []Record {
	out := make([]Record, len(idx.records))
	copy(out, idx.records)
	return out
}

// Backend 返回检索后端名称
func (idx *Index) Backend() string {
	return idx.backend
}

// Close 释放检索后端
func (idx *Index) Close() error {
	if idx == nil || idx.searcher == nil {
		return nil
	}
	return idx.searcher.Close()
}
