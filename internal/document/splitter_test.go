package document

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSplitter(t *testing.T, size, overlap int) *TextSplitter {
	t.Helper()
	s, err := NewTextSplitter(SplitterConfig{ChunkSize: size, ChunkOverlap: overlap})
	require.NoError(t, err)
	return s
}

// reconstruct 去掉重叠部分后拼接同一页的分块
func reconstruct(chunks []Chunk, overlap int) string {
	var sb strings.Builder
	for i, c := range chunks {
		runes := []rune(c.Text)
		if i > 0 {
			runes = runes[overlap:]
		}
		sb.WriteString(string(runes))
	}
	return sb.String()
}

func chunksOfPage(chunks []Chunk, page int) []Chunk {
	var out []Chunk
	for _, c := range chunks {
		if c.Page == page {
			out = append(out, c)
		}
	}
	return out
}

// TestNewTextSplitterValidation 测试配置校验
func TestNewTextSplitterValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		ok      bool
	}{
		{"defaults", 1000, 200, true},
		{"half overlap", 100, 50, true},
		{"no overlap", 10, 0, true},
		{"single char", 1, 0, true},
		{"overlap too large", 100, 51, false},
		{"zero size", 0, 0, false},
		{"negative overlap", 100, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTextSplitter(SplitterConfig{ChunkSize: tt.size, ChunkOverlap: tt.overlap})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, models.KindInvalidArgument, models.KindOf(err))
			}
		})
	}
}

// TestSplitChunkProperties 测试分块长度、重叠与还原
func TestSplitChunkProperties(t *testing.T) {
	page0 := strings.Repeat("Verify every quote against the recording. ", 40) +
		"\n\nCheck names and dates in two independent sources.\n" +
		strings.Repeat("Primary documents beat summaries", 30)
	page1 := strings.Repeat("x", 777)
	page2 := "事实核查需要原始资料。" + strings.Repeat("核对日期与姓名。", 60)

	doc := &Document{SourceID: "guide.txt", Pages: []Page{
		{Index: 0, Text: page0},
		{Index: 1, Text: page1},
		{Index: 2, Text: page2},
	}}

	configs := []struct{ size, overlap int }{
		{1000, 200}, {100, 20}, {50, 10}, {64, 32}, {7, 3}, {1, 0},
	}
	for _, cfg := range configs {
		s := newSplitter(t, cfg.size, cfg.overlap)
		chunks, err := s.Split(doc)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		for i, c := range chunks {
			n := utf8.RuneCountInString(c.Text)
			assert.LessOrEqual(t, n, cfg.size)
			assert.Greater(t, n, 0)
			assert.Equal(t, i, c.Index)
			assert.Equal(t, "guide.txt", c.SourceID)
			assert.Equal(t, n, c.End-c.Start)
		}

		for _, page := range doc.Pages {
			pageChunks := chunksOfPage(chunks, page.Index)
			require.NotEmpty(t, pageChunks)

			for i := 1; i < len(pageChunks); i++ {
				prev, cur := []rune(pageChunks[i-1].Text), []rune(pageChunks[i].Text)
				shared := cfg.overlap
				if len(cur) < shared {
					shared = len(cur)
				}
				assert.Equal(t, string(prev[len(prev)-shared:]), string(cur[:shared]),
					"size=%d overlap=%d chunk=%d", cfg.size, cfg.overlap, i)
			}

			assert.Equal(t, page.Text, reconstruct(pageChunks, cfg.overlap),
				"size=%d overlap=%d page=%d", cfg.size, cfg.overlap, page.Index)
		}
	}
}

// TestSplitBoundaryPreference 测试切分边界的优先级
func TestSplitBoundaryPreference(t *testing.T) {
	s := newSplitter(t, 40, 0)

	t.Run("paragraph before line", func(t *testing.T) {
		text := "First paragraph here.\n\nSecond one\nthird line and more words"
		parts := s.SplitText(text)
		require.GreaterOrEqual(t, len(parts), 2)
		assert.Equal(t, "First paragraph here.\n\n", parts[0])
	})

	t.Run("line before space", func(t *testing.T) {
		text := "alpha beta gamma delta\nepsilon zeta eta theta iota"
		parts := s.SplitText(text)
		require.GreaterOrEqual(t, len(parts), 2)
		assert.Equal(t, "alpha beta gamma delta\n", parts[0])
	})

	t.Run("space before hard cut", func(t *testing.T) {
		text := "one two three four five six seven eight nine ten"
		parts := s.SplitText(text)
		require.GreaterOrEqual(t, len(parts), 2)
		assert.True(t, strings.HasSuffix(parts[0], " "))
		assert.Equal(t, text, strings.Join(parts, ""))
	})

	t.Run("hard cut", func(t *testing.T) {
		text := strings.Repeat("a", 100)
		parts := s.SplitText(text)
		assert.Equal(t, []string{strings.Repeat("a", 40), strings.Repeat("a", 40), strings.Repeat("a", 20)}, parts)
	})
}

// TestSplitOverlapStart 测试下一块从上一块末尾前overlap处开始
func TestSplitOverlapStart(t *testing.T) {
	s := newSplitter(t, 10, 3)
	chunks, err := s.Split(&Document{SourceID: "a", Pages: []Page{{Text: strings.Repeat("abcdefghij", 3)}}})
	require.NoError(t, err)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End-3, chunks[i].Start)
	}
	assert.Equal(t, 30, chunks[len(chunks)-1].End)
}

// TestSplitEmptyInput 测试空文档
func TestSplitEmptyInput(t *testing.T) {
	s := newSplitter(t, 50, 10)

	chunks, err := s.Split(&Document{SourceID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.NotNil(t, chunks)

	chunks, err = s.Split(&Document{SourceID: "blank", Pages: []Page{{Index: 0, Text: ""}, {Index: 1, Text: " \n\t "}}})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = s.Split(nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

// TestSplitNeverMergesPages 测试分块不跨页
func TestSplitNeverMergesPages(t *testing.T) {
	s := newSplitter(t, 50, 10)
	doc := &Document{SourceID: "guide.pdf", Pages: []Page{
		{Index: 0, Text: "Fact-checking requires primary sources."},
		{Index: 1, Text: "Always verify dates and names against originals."},
	}}

	chunks, err := s.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Fact-checking requires primary sources.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Page)
	assert.Equal(t, "Always verify dates and names against originals.", chunks[1].Text)
	assert.Equal(t, 1, chunks[1].Page)
	assert.Equal(t, 1, chunks[1].Index)
}
