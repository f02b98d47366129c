package vectordb

import (
	"container/heap"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/fyerfyer/truthlens-rag/internal/models"
)

// Hit 检索命中，Position为记录的插入位置
type Hit struct {
	Position int
	Score    float32
}

// Searcher 相似度检索后端
// 返回按相似度降序、插入位置升序排列的前k个命中
type Searcher interface {
	Search(query []float32, k int) ([]Hit, error)
	Close() error
}

// SearcherFactory 检索后端工厂函数类型
// vectors按插入顺序排列
type SearcherFactory func(vectors [][]float32, dimension int) (Searcher, error)

// searcherRegistry 注册可用的检索后端
var searcherRegistry = map[string]SearcherFactory{}

// RegisterSearcher 注册检索后端
func RegisterSearcher(name string, factory SearcherFactory) {
	searcherRegistry[name] = factory
}

// NewSearcher 根据名称创建检索后端
func NewSearcher(name string, vectors [][]float32, dimension int) (Searcher, error) {
	if name == "" {
		name = "flat"
	}
	factory, ok := searcherRegistry[name]
	if !ok {
		return nil, models.Errorf(models.KindConfiguration, "unsupported searcher: %s", name)
	}
	return factory(vectors, dimension)
}

// rankBefore 排序规则：相似度高者在前，相同时插入早者在前
func rankBefore(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Position < b.Position
}

// sortHits 按排序规则排序
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return rankBefore(hits[i], hits[j]) })
}

// tiesResolved 判断一次取回的want个命中能否确定前k名
// 已取回全部记录，或最后一名严格低于第k名时，第k名的并列记录都已在结果中
func tiesResolved(hits []Hit, k, want, total int) bool {
	if want >= total || len(hits) < want {
		return true
	}
	if len(hits) <= k {
		return false
	}
	return hits[len(hits)-1].Score < hits[k-1].Score
}

// hitHeap 堆顶为当前最差的命中
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return rankBefore(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK 维护大小为k的候选集
type topK struct {
	k int
	h hitHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(hitHeap, 0, k)}
}

func (t *topK) offer(hit Hit) {
	if len(t.h) < t.k {
		heap.Push(&t.h, hit)
		return
	}
	if rankBefore(hit, t.h[0]) {
		t.h[0] = hit
		heap.Fix(&t.h, 0)
	}
}

func (t *topK) sorted() []Hit {
	out := make([]Hit, len(t.h))
	copy(out, t.h)
	sortHits(out)
	return out
}

// parallelThreshold 记录数超过该值时并行扫描
const parallelThreshold = 8192

// FlatSearcher 暴力线性扫描，结果精确
type FlatSearcher struct {
	vectors [][]float32 // 归一化后的向量
	workers int
}

// NewFlatSearcher 创建暴力检索后端
func NewFlatSearcher(vectors [][]float32, dimension int) (Searcher, error) {
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dimension)
		}
		normalized[i] = normalizeVector(v)
	}
	return &FlatSearcher{vectors: normalized, workers: runtime.NumCPU()}, nil
}

// Search 计算查询向量与全部向量的余弦相似度
func (s *FlatSearcher) Search(query []float32, k int) ([]Hit, error) {
	n := len(s.vectors)
	if k > n {
		k = n
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	q := normalizeVector(query)

	if n < parallelThreshold || s.workers <= 1 {
		return s.scan(q, k, 0, n).sorted(), nil
	}

	// 按区间并行扫描，各自保留前k个后合并
	per := (n + s.workers - 1) / s.workers
	partials := make([]*topK, s.workers)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		start, end := w*per, (w+1)*per
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			partials[w] = s.scan(q, k, start, end)
		}(w, start, end)
	}
	wg.Wait()

	merged := newTopK(k)
	for _, p := range partials {
		if p == nil {
			continue
		}
		for _, hit := range p.h {
			merged.offer(hit)
		}
	}
	return merged.sorted(), nil
}

func (s *FlatSearcher) scan(q []float32, k, start, end int) *topK {
	top := newTopK(k)
	for i := start; i < end; i++ {
		top.offer(Hit{Position: i, Score: clampSimilarity(dotProduct(q, s.vectors[i]))})
	}
	return top
}

// Close 暴力检索无需释放资源
func (s *FlatSearcher) Close() error {
	return nil
}

func init() {
	RegisterSearcher("flat", NewFlatSearcher)
}
