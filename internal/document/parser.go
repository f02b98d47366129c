package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fyerfyer/truthlens-rag/internal/models"
)

// Parser 文档解析器接口
// 负责将不同格式的文档解析为按页组织的纯文本
type Parser interface {
	// Parse 解析文档文件
	Parse(filePath string) (*Document, error)

	// ParseReader 从Reader解析文档
	// filename用于确定来源标识
	ParseReader(r io.Reader, filename string) (*Document, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// pageBreak 纯文本中的分页符
const pageBreak = "\f"

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
func ParserFactory(filePath string) (Parser, error) {
	switch contentType := DetectContentType(filePath); contentType {
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	default:
		return nil, models.Errorf(models.KindConfiguration, "unsupported document type: %s", filepath.Ext(filePath))
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt", ".text":
		return PlainText
	default:
		return Unknown
	}
}

// Load 按扩展名选择解析器并解析文件
// 文件不存在或不可读时返回配置错误
func Load(filePath string) (*Document, error) {
	parser, err := ParserFactory(filePath)
	if err != nil {
		return nil, err
	}
	return parser.Parse(filePath)
}

// Page 文档中的一页
type Page struct {
	Index int    // 页码，从0开始
	Text  string // 页面文本
}

// Document 解析后的文档结构，加载后不再修改
type Document struct {
	SourceID string            // 来源文档标识
	Pages    []Page            // 按顺序排列的页面
	Meta     map[string]string // 元数据（可选）
}

// IsEmpty 文档没有任何非空白文本
func (d *Document) IsEmpty() bool {
	if d == nil {
		return true
	}
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

// newDocument 由页面文本创建文档
func newDocument(filename string, texts []string) *Document {
	pages := make([]Page, 0, len(texts))
	for i, text := range texts {
		pages = append(pages, Page{Index: i, Text: text})
	}
	return &Document{
		SourceID: filepath.Base(filename),
		Pages:    pages,
		Meta:     map[string]string{"pages": strconv.Itoa(len(pages))},
	}
}

// unreadable 文档内容无法读取或解析，归为配置错误
func unreadable(filename string, err error) error {
	return models.NewError(models.KindConfiguration, fmt.Sprintf("cannot read document %s", filepath.Base(filename)), err)
}

// openSource 打开文档文件，缺失或不可读属于配置错误
func openSource(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, fmt.Sprintf("cannot open document %s", filePath), err)
	}
	return file, nil
}
