//go:build faiss

package vectordb

import (
	"fmt"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissSearcher 基于Faiss内积平面索引的检索后端
// 向量先归一化，内积即余弦相似度
type FaissSearcher struct {
	index *faiss.IndexFlat
	total int
}

// NewFaissSearcher 创建Faiss检索后端
func NewFaissSearcher(vectors [][]float32, dimension int) (Searcher, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	index, err := faiss.NewIndexFlat(dimension, faiss.MetricInnerProduct)
	if err != nil {
		return nil, fmt.Errorf("failed to create Faiss index: %w", err)
	}

	flat := make([]float32, 0, len(vectors)*dimension)
	for i, v := range vectors {
		if len(v) != dimension {
			index.Delete()
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dimension)
		}
		flat = append(flat, normalizeVector(v)...)
	}
	if len(flat) > 0 {
		if err := index.Add(flat); err != nil {
			index.Delete()
			return nil, fmt.Errorf("failed to add vectors to index: %w", err)
		}
	}

	return &FaissSearcher{index: index, total: len(vectors)}, nil
}

// Search 查询前k个命中
// 第k名存在并列时扩大查询范围，保证并列记录按插入顺序取舍
func (s *FaissSearcher) Search(query []float32, k int) ([]Hit, error) {
	if k > s.total {
		k = s.total
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	q := normalizeVector(query)

	// 多取一名，用于判断第k名是否与之后的记录并列
	want := k + 1
	if want > s.total {
		want = s.total
	}
	for {
		scores, labels, err := s.index.Search(q, int64(want))
		if err != nil {
			return nil, fmt.Errorf("failed to search index: %w", err)
		}

		hits := make([]Hit, 0, len(labels))
		for i, label := range labels {
			if label < 0 {
				continue
			}
			hits = append(hits, Hit{Position: int(label), Score: clampSimilarity(scores[i])})
		}
		sortHits(hits)

		if tiesResolved(hits, k, want, s.total) {
			if len(hits) > k {
				hits = hits[:k]
			}
			return hits, nil
		}
		want *= 2
		if want > s.total {
			want = s.total
		}
	}
}

// Close 释放Faiss索引
func (s *FaissSearcher) Close() error {
	s.index.Delete()
	return nil
}

func init() {
	RegisterSearcher("faiss", NewFaissSearcher)
}
