package document

import (
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
// 整篇文档作为一页，段落之间保留空行
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) (*Document, error) {
	file, err := openSource(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (*Document, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, unreadable(filename, err)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	doc := mdParser.Parse(content)

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	htmlContent := markdown.Render(doc, renderer)

	return newDocument(filename, []string{extractTextFromHTML(string(htmlContent))}), nil
}

var (
	blockCloseTag = regexp.MustCompile(`(?i)</(p|h[1-6]|ul|ol|pre|blockquote|table)>`)
	lineBreakTag  = regexp.MustCompile(`(?i)(<br\s*/?>|</li>|</tr>)\s*`)
	listItemTag   = regexp.MustCompile(`(?i)<li[^>]*>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	inlineSpace   = regexp.MustCompile(`[ \t]+`)
	extraNewlines = regexp.MustCompile(`\n{3,}`)
)

// extractTextFromHTML 从渲染后的HTML中提取纯文本
// 块级元素之间用空行分隔，列表项与换行用单个换行
func extractTextFromHTML(s string) string {
	s = lineBreakTag.ReplaceAllString(s, "\n")
	s = blockCloseTag.ReplaceAllString(s, "\n\n")
	s = listItemTag.ReplaceAllString(s, "- ")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return normalizeWhitespace(s)
}

// normalizeWhitespace 规范化文本中的空白符，保留段落与换行结构
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
