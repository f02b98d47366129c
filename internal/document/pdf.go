package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFParser PDF文档解析器
// 优先按页提取纯文本，失败时退回pdfcpu的内容流提取
type PDFParser struct{}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser() Parser {
	return &PDFParser{}
}

// Parse 解析PDF文件并提取其文本内容
func (p *PDFParser) Parse(filePath string) (*Document, error) {
	file, err := openSource(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析PDF内容
// 无法解析的PDF返回配置错误；没有文字层的PDF返回空白页面
func (p *PDFParser) ParseReader(r io.Reader, filename string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, unreadable(filename, err)
	}

	pages, err := extractPlainPages(data)
	if err != nil || allBlank(pages) {
		fallback, ferr := extractContentPages(data)
		switch {
		case ferr == nil && (err != nil || !allBlank(fallback)):
			pages = fallback
		case err != nil && ferr != nil:
			return nil, unreadable(filename, fmt.Errorf("%v; fallback: %w", err, ferr))
		case err != nil:
			return nil, unreadable(filename, err)
		}
	}

	return newDocument(filename, pages), nil
}

// extractPlainPages 使用ledongthuc/pdf逐页提取纯文本
func extractPlainPages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages = make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

var contentPageFile = regexp.MustCompile(`_(\d+)\.txt$`)

// extractContentPages 使用pdfcpu将每页内容提取到临时目录后读取
func extractContentPages(data []byte) ([]string, error) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inFile := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(inFile, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp pdf: %w", err)
	}
	outDir := filepath.Join(tmpDir, "out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(inFile, outDir, nil, conf); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted text dir: %w", err)
	}

	byPage := make(map[int]string)
	maxPage := 0
	for _, e := range entries {
		m := contentPageFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		content, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		byPage[n] = contentStreamText(string(content))
		if n > maxPage {
			maxPage = n
		}
	}
	if len(byPage) == 0 {
		return nil, fmt.Errorf("no page content found in PDF")
	}

	pages := make([]string, maxPage)
	for n, text := range byPage {
		if n >= 1 {
			pages[n-1] = text
		}
	}
	return pages, nil
}

func allBlank(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}

// contentStreamText 从页面内容流中提取文本显示操作符(Tj TJ ' ")的字符串操作数
// 其余绘图操作符全部忽略，换行操作符(Td TD T* ET)转为换行
func contentStreamText(stream string) string {
	var out strings.Builder
	var operands []string
	inArray := false
	line := false

	newline := func() {
		if line {
			out.WriteByte('\n')
			line = false
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '(':
			str, next := readLiteralString(stream, i)
			operands = append(operands, str)
			i = next
		case strings.HasPrefix(stream[i:], "<<"), strings.HasPrefix(stream[i:], ">>"):
			i += 2
		case c == '<':
			end := strings.IndexByte(stream[i:], '>')
			if end < 0 {
				return strings.TrimSpace(out.String())
			}
			operands = append(operands, decodeHexString(stream[i+1:i+end]))
			i += end + 1
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case isOperatorByte(c):
			start := i
			for i < len(stream) && isOperatorByte(stream[i]) {
				i++
			}
			if inArray {
				// TJ数组中的字距调整值，较大的负值视为单词间隔
				if n, err := strconv.ParseFloat(stream[start:i], 64); err == nil && n <= -200 && len(operands) > 0 {
					operands[len(operands)-1] += " "
				}
				continue
			}
			switch op := stream[start:i]; op {
			case "Tj", "TJ":
				for _, s := range operands {
					out.WriteString(s)
				}
				line = line || len(operands) > 0
			case "'", "\"":
				newline()
				for _, s := range operands {
					out.WriteString(s)
				}
				line = len(operands) > 0
			case "Td", "TD", "T*", "ET":
				newline()
			}
			if _, err := strconv.ParseFloat(stream[start:i], 64); err != nil {
				operands = operands[:0]
			}
		default:
			i++
		}
	}
	return strings.TrimSpace(out.String())
}

// isOperatorByte 操作符或数字中可能出现的字符
func isOperatorByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte(`'"*-.+`, c) >= 0
}

// readLiteralString 读取从start开始的括号字符串，返回内容和结束后的位置
func readLiteralString(stream string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	for i := start; i < len(stream); i++ {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 >= len(stream) {
				return b.String(), len(stream)
			}
			i++
			switch e := stream[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					j := i
					for j < len(stream) && j < i+3 && stream[j] >= '0' && stream[j] <= '7' {
						j++
					}
					n, _ := strconv.ParseUint(stream[i:j], 8, 8)
					b.WriteByte(byte(n))
					i = j - 1
				} else {
					b.WriteByte(e)
				}
			}
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), len(stream)
}

// decodeHexString 解码十六进制字符串，奇数位补0
func decodeHexString(s string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if len(digits)%2 == 1 {
		digits += "0"
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		n, err := strconv.ParseUint(digits[i:i+2], 16, 8)
		if err != nil {
			return ""
		}
		out = append(out, byte(n))
	}
	return string(out)
}
