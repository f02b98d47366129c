package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fyerfyer/truthlens-rag/internal/embedding"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/vectordb"
	"github.com/sirupsen/logrus"
)

const (
	// ContextHeader 检索上下文的标题
	ContextHeader = "Research Methodology Context:\n\n"
	// NoContextMessage 没有检索到任何分块时返回的固定文本
	NoContextMessage = "No research methodology found for this topic."
	// DefaultTopK 默认返回的分块数量
	DefaultTopK = 3
)

// RetrievalService 检索服务
// 持有一个已加载索引的快照，查询期间快照不会改变
type RetrievalService struct {
	embedder embedding.Client
	store    *vectordb.Store
	current  atomic.Pointer[snapshot]
	loadMu   sync.Mutex
	defaultK int
	logger   *logrus.Logger
}

// snapshot 被查询引用的索引快照
// 替换后不再接受新的引用，最后一个引用释放时关闭索引
type snapshot struct {
	idx     *vectordb.Index
	mu      sync.Mutex
	refs    int
	retired bool
}

// acquire 增加引用，快照已被替换时返回false
func (p *snapshot) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired {
		return false
	}
	p.refs++
	return true
}

// release 释放引用
func (p *snapshot) release() {
	p.mu.Lock()
	p.refs--
	done := p.retired && p.refs == 0
	p.mu.Unlock()
	if done {
		p.close()
	}
}

// retire 标记快照已被替换，没有引用时立即关闭
func (p *snapshot) retire() {
	p.mu.Lock()
	p.retired = true
	done := p.refs == 0
	p.mu.Unlock()
	if done {
		p.close()
	}
}

func (p *snapshot) close() {
	_ = p.idx.Close()
}

// RetrievalOption 检索服务配置选项
type RetrievalOption func(*RetrievalService)

// WithDefaultK 设置默认返回的分块数量
func WithDefaultK(k int) RetrievalOption {
	return func(s *RetrievalService) {
		if k > 0 {
			s.defaultK = k
		}
	}
}

// WithIndex 使用已在内存中的索引，不再从存储加载
func WithIndex(idx *vectordb.Index) RetrievalOption {
	return func(s *RetrievalService) {
		s.current.Store(&snapshot{idx: idx})
	}
}

// WithRetrievalLogger 设置日志记录器
func WithRetrievalLogger(logger *logrus.Logger) RetrievalOption {
	return func(s *RetrievalService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRetrievalService 创建检索服务
// store可以为nil，此时必须通过WithIndex提供索引
func NewRetrievalService(embedder embedding.Client, store *vectordb.Store, opts ...RetrievalOption) *RetrievalService {
	s := &RetrievalService{
		embedder: embedder,
		store:    store,
		defaultK: DefaultTopK,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultK 返回默认的分块数量
func (s *RetrievalService) DefaultK() int {
	return s.defaultK
}

// Index 返回当前的索引快照，未加载时为nil
// 返回值只用于读取构建信息，检索请使用Retrieve
func (s *RetrievalService) Index() *vectordb.Index {
	if p := s.current.Load(); p != nil {
		return p.idx
	}
	return nil
}

// Reload 从存储读取最新的构建代并替换快照
// 正在执行的查询继续使用旧快照，旧快照在这些查询结束后关闭
func (s *RetrievalService) Reload(ctx context.Context) (vectordb.Info, error) {
	if s.store == nil {
		return vectordb.Info{}, models.Errorf(models.KindConfiguration, "retrieval service has no index store")
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	idx, err := s.store.Load(ctx)
	if err != nil {
		return vectordb.Info{}, err
	}
	if old := s.current.Swap(&snapshot{idx: idx}); old != nil {
		old.retire()
	}

	info := idx.Info()
	s.logger.WithFields(logrus.Fields{
		"generation": info.Generation,
		"records":    info.RecordCount,
		"model":      info.ModelID,
	}).Info("Index snapshot loaded")
	return info, nil
}

// acquire 引用当前快照，首次使用时从存储加载
// 调用方用完后必须调用release
func (s *RetrievalService) acquire(ctx context.Context) (*snapshot, error) {
	for {
		p := s.current.Load()
		if p == nil {
			var err error
			if p, err = s.loadFirst(ctx); err != nil {
				return nil, err
			}
		}
		// 获取引用前快照被替换时重新读取
		if p.acquire() {
			return p, nil
		}
	}
}

// loadFirst 首次加载快照
func (s *RetrievalService) loadFirst(ctx context.Context) (*snapshot, error) {
	if s.store == nil {
		return nil, models.ErrIndexNotFound
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if p := s.current.Load(); p != nil {
		return p, nil
	}

	idx, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	p := &snapshot{idx: idx}
	s.current.Store(p)
	return p, nil
}

// Retrieve 检索与陈述最相关的k个分块
func (s *RetrievalService) Retrieve(ctx context.Context, claim string, k int) ([]vectordb.SearchResult, error) {
	if strings.TrimSpace(claim) == "" {
		return nil, models.Errorf(models.KindInvalidArgument, "claim must not be empty")
	}
	if k < 1 {
		return nil, models.Errorf(models.KindInvalidArgument, "k must be >= 1, got %d", k)
	}

	snap, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.release()
	idx := snap.idx

	if idx.Model() != s.embedder.Name() {
		return nil, models.Errorf(models.KindModelMismatch,
			"index was built with %q but the configured embedder is %q, rebuild the index", idx.Model(), s.embedder.Name())
	}

	vector, err := s.embedder.Embed(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("failed to embed claim: %w", err)
	}

	results, err := idx.Search(vector, k)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"k":          k,
		"results":    len(results),
		"generation": idx.Generation(),
	}).Debug("Claim retrieved")
	return results, nil
}

// GetContext 检索并格式化为上下文文本
func (s *RetrievalService) GetContext(ctx context.Context, claim string, k int) (string, error) {
	results, err := s.Retrieve(ctx, claim, k)
	if err != nil {
		return "", err
	}
	return FormatContext(results), nil
}

// FormatContext 将检索结果格式化为编号列表
func FormatContext(results []vectordb.SearchResult) string {
	if len(results) == 0 {
		return NoContextMessage
	}

	var b strings.Builder
	b.WriteString(ContextHeader)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, r.Record.Text)
	}
	return b.String()
}
