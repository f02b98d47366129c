package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// BatchEmbedder 批处理器需要的嵌入能力
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// BatchProcessor 批处理器
// 将大量文本分批并行提交给嵌入客户端，结果保持输入顺序
type BatchProcessor struct {
	client     BatchEmbedder // 嵌入客户端
	batchSize  int           // 每批处理的文本数量
	maxWorkers int           // 最大并行工作线程数
	onBatch    func(done, total int)
}

// BatchOption 批处理器选项
type BatchOption func(*BatchProcessor)

// WithProgress 每完成一批回调一次
func WithProgress(fn func(done, total int)) BatchOption {
	return func(p *BatchProcessor) {
		p.onBatch = fn
	}
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client BatchEmbedder, batchSize int, maxWorkers int, opts ...BatchOption) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 16
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	p := &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process 处理一批文本
// 任一批次失败时返回第一个错误，不做重试
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := splitIntoBatches(len(texts), p.batchSize)
	results := make([][]float32, len(texts))

	wp := workerpool.New(p.maxWorkers)
	var (
		mu       sync.Mutex
		firstErr error
		done     int
	)

	for i, b := range batches {
		i, b := i, b
		wp.Submit(func() {
			if ctx.Err() != nil {
				return
			}

			vectors, err := p.client.EmbedBatch(ctx, texts[b.start:b.end])
			if err == nil && len(vectors) != b.end-b.start {
				err = NewEmbeddingError(ErrCodeServerError,
					fmt.Sprintf("batch %d: expected %d embeddings, got %d", i, b.end-b.start, len(vectors)))
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			copy(results[b.start:b.end], vectors)
			done++
			if p.onBatch != nil {
				p.onBatch(done, len(batches))
			}
		})
	}

	wp.StopWait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(err)
	}
	return results, nil
}

// batchRange 一个批次在输入中的区间
type batchRange struct {
	start, end int
}

// splitIntoBatches 将n条文本分割成多个批次
func splitIntoBatches(n, batchSize int) []batchRange {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([]batchRange, 0, (n+batchSize-1)/batchSize)
	for i := 0; i < n; i += batchSize {
		end := i + batchSize
		if end > n {
			end = n
		}
		batches = append(batches, batchRange{start: i, end: end})
	}
	return batches
}
