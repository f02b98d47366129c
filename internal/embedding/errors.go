package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/truthlens-rag/internal/models"
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Message string // 错误消息
	Err     error  // 底层错误
}

// Error 实现error接口
func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding error (code=%d): %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// ErrorKind 将错误码映射为对外的错误类别
func (e *EmbeddingError) ErrorKind() models.ErrorKind {
	switch e.Code {
	case ErrCodeConfiguration:
		return models.KindConfiguration
	case ErrCodeEmptyInput:
		return models.KindInvalidArgument
	default:
		return models.KindEmbeddingProvider
	}
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入为空
	ErrCodeConfiguration  = 1008 // 客户端配置错误（缺少密钥、未知提供商）
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
)

var (
	// ErrEmptyText 输入文本为空
	ErrEmptyText = NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	// ErrMissingAPIKey 缺少API密钥
	ErrMissingAPIKey = NewEmbeddingError(ErrCodeConfiguration, "API key is required (set OPENAI_API_KEY or embed.api_key)")
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, message string) *EmbeddingError {
	return &EmbeddingError{
		Code:    code,
		Message: message,
	}
}

// wrapError 包装底层错误
func wrapError(code int, message string, err error) *EmbeddingError {
	return &EmbeddingError{Code: code, Message: message, Err: err}
}

// classifyTransportError 对没有HTTP状态码的错误分类
func classifyTransportError(err error) *EmbeddingError {
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapError(ErrCodeTimeout, ErrMsgTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return wrapError(ErrCodeNetworkError, "request canceled", err)
	}
	return wrapError(ErrCodeNetworkError, ErrMsgNetworkError, err)
}

// classifyStatus 根据HTTP状态码分类
func classifyStatus(status int, err error) *EmbeddingError {
	switch {
	case status == 401 || status == 403:
		return wrapError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey, err)
	case status == 429:
		return wrapError(ErrCodeRateLimited, ErrMsgRateLimited, err)
	case status >= 500:
		return wrapError(ErrCodeServerError, ErrMsgServerError, err)
	case status == 408:
		return wrapError(ErrCodeTimeout, ErrMsgTimeout, err)
	default:
		return wrapError(ErrCodeInvalidRequest, ErrMsgInvalidRequest, err)
	}
}
