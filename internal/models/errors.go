package models

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别，调用方据此区分失败原因
type ErrorKind string

const (
	// KindConfiguration 配置错误（缺少凭证、缺少输入路径等）
	KindConfiguration ErrorKind = "ConfigurationError"
	// KindEmptyCorpus 分块结果为空
	KindEmptyCorpus ErrorKind = "EmptyCorpus"
	// KindIndexNotFound 索引位置不存在有效索引
	KindIndexNotFound ErrorKind = "IndexNotFound"
	// KindEmbeddingProvider 嵌入服务调用失败（网络、认证、限流、超时）
	KindEmbeddingProvider ErrorKind = "EmbeddingProviderError"
	// KindInvalidArgument 参数错误（k非法、查询为空等）
	KindInvalidArgument ErrorKind = "InvalidArgument"
	// KindModelMismatch 索引的嵌入模型与当前嵌入模型不一致
	KindModelMismatch ErrorKind = "ModelMismatch"
	// KindInternal 其他内部错误
	KindInternal ErrorKind = "InternalError"
)

var (
	// ErrEmptyCorpus 空语料错误
	ErrEmptyCorpus = &Error{Kind: KindEmptyCorpus, Message: "no chunks to index"}

	// ErrIndexNotFound 索引不存在错误
	ErrIndexNotFound = &Error{Kind: KindIndexNotFound, Message: "index not found, build it first"}
)

// Error 带类别的结构化错误
type Error struct {
	Kind    ErrorKind // 错误类别
	Message string    // 可读信息
	Err     error     // 底层错误
}

// NewError 创建结构化错误
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf 使用格式化信息创建结构化错误
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类别的错误视为相等，便于 errors.Is(err, ErrIndexNotFound)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ErrorKind 返回错误类别
func (e *Error) ErrorKind() ErrorKind {
	return e.Kind
}

// kinded 能报告自身类别的错误，其他包的错误类型可实现该接口
type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf 提取错误类别，非结构化错误归为内部错误
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode 命令行退出码
func (k ErrorKind) ExitCode() int {
	switch k {
	case "":
		return 0
	case KindConfiguration:
		return 2
	case KindEmptyCorpus:
		return 3
	case KindIndexNotFound:
		return 4
	case KindEmbeddingProvider:
		return 5
	case KindInvalidArgument:
		return 6
	case KindModelMismatch:
		return 7
	default:
		return 1
	}
}
