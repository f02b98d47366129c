package document

import (
	"strings"

	"github.com/fyerfyer/truthlens-rag/internal/models"
)

// DefaultSeparators 默认的切分边界，按优先级排列：段落、换行、空格
var DefaultSeparators = []string{"\n\n", "\n", " "}

// SplitterConfig 分段器配置
type SplitterConfig struct {
	ChunkSize    int      // 分块大小（按字符数）
	ChunkOverlap int      // 相邻分块的重叠字符数，不得超过分块大小的一半
	Lookback     int      // 从上限向前查找边界的窗口，0表示分块大小的一半
	Separators   []string // 切分边界，按优先级排列
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   DefaultSeparators,
	}
}

// Chunk 文档分块，检索的基本单位
type Chunk struct {
	Text     string // 分块原文
	SourceID string // 来源文档标识
	Page     int    // 所在页码
	Index    int    // 文档内的分块序号
	Start    int    // 页内起始字符位置（含）
	End      int    // 页内结束字符位置（不含）
}

// TextSplitter 递归字符分段器
// 分块不跨页合并，相邻分块保留固定重叠
type TextSplitter struct {
	config     SplitterConfig
	separators [][]rune
}

// NewTextSplitter 创建新的文本分段器
func NewTextSplitter(config SplitterConfig) (*TextSplitter, error) {
	if config.ChunkSize < 1 {
		return nil, models.Errorf(models.KindInvalidArgument, "chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.ChunkOverlap < 0 {
		return nil, models.Errorf(models.KindInvalidArgument, "chunk overlap must not be negative, got %d", config.ChunkOverlap)
	}
	if config.ChunkOverlap > config.ChunkSize/2 {
		return nil, models.Errorf(models.KindInvalidArgument,
			"chunk overlap %d exceeds half of chunk size %d", config.ChunkOverlap, config.ChunkSize)
	}
	if config.Lookback <= 0 || config.Lookback > config.ChunkSize {
		config.Lookback = config.ChunkSize / 2
	}
	if config.Separators == nil {
		config.Separators = DefaultSeparators
	}

	seps := make([][]rune, 0, len(config.Separators))
	for _, sep := range config.Separators {
		if sep != "" {
			seps = append(seps, []rune(sep))
		}
	}

	return &TextSplitter{config: config, separators: seps}, nil
}

// Config 返回分段器配置
func (s *TextSplitter) Config() SplitterConfig {
	return s.config
}

// Split 将文档逐页切分为分块
// 没有页面或页面全为空白时返回空切片
func (s *TextSplitter) Split(doc *Document) ([]Chunk, error) {
	chunks := []Chunk{}
	if doc == nil {
		return chunks, nil
	}

	for _, page := range doc.Pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		runes := []rune(page.Text)
		for _, span := range s.spans(runes) {
			chunks = append(chunks, Chunk{
				Text:     string(runes[span[0]:span[1]]),
				SourceID: doc.SourceID,
				Page:     page.Index,
				Index:    len(chunks),
				Start:    span[0],
				End:      span[1],
			})
		}
	}
	return chunks, nil
}

// SplitText 切分单段文本，返回分块文本
func (s *TextSplitter) SplitText(text string) []string {
	runes := []rune(text)
	spans := s.spans(runes)
	out := make([]string, 0, len(spans))
	for _, span := range spans {
		out = append(out, string(runes[span[0]:span[1]]))
	}
	return out
}

// spans 计算分块在页内的区间
// 每次切分点不早于 start+overlap+1，保证向前推进
func (s *TextSplitter) spans(runes []rune) [][2]int {
	size, overlap := s.config.ChunkSize, s.config.ChunkOverlap
	n := len(runes)

	var out [][2]int
	start := 0
	for start < n {
		if n-start <= size {
			out = append(out, [2]int{start, n})
			break
		}

		limit := start + size
		floor := limit - s.config.Lookback
		if lowest := start + overlap + 1; floor < lowest {
			floor = lowest
		}

		cut := s.findCut(runes, floor, limit)
		out = append(out, [2]int{start, cut})
		start = cut - overlap
	}
	return out
}

// findCut 在 [floor, limit] 内从后向前查找优先级最高的边界
// 切分点位于边界之后，找不到时在上限处硬切
func (s *TextSplitter) findCut(runes []rune, floor, limit int) int {
	for _, sep := range s.separators {
		for end := limit; end >= floor; end-- {
			if hasSeparatorAt(runes, end, sep) {
				return end
			}
		}
	}
	return limit
}

// hasSeparatorAt 判断 runes[end-len(sep):end] 是否等于 sep
func hasSeparatorAt(runes []rune, end int, sep []rune) bool {
	begin := end - len(sep)
	if begin < 0 || end > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[begin+i] != r {
			return false
		}
	}
	return true
}
