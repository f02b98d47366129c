package document

import (
	"io"
	"strings"
)

// PlainTextParser 纯文本解析器
// 文本中的换页符(\f)视为分页
type PlainTextParser struct{}

// NewPlainTextParser 创建一个新的纯文本解析器
func NewPlainTextParser() Parser {
	return &PlainTextParser{}
}

// Parse 解析纯文本文件
func (p *PlainTextParser) Parse(filePath string) (*Document, error) {
	file, err := openSource(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析纯文本
func (p *PlainTextParser) ParseReader(r io.Reader, filename string) (*Document, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, unreadable(filename, err)
	}

	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	return newDocument(filename, strings.Split(text, pageBreak)), nil
}
