package model

import (
	"encoding/json"
	"time"

	"github.com/fyerfyer/truthlens-rag/internal/services"
	"github.com/fyerfyer/truthlens-rag/internal/vectordb"
	"github.com/fyerfyer/truthlens-rag/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Kind    string      `json:"kind,omitempty"`     // 错误类别
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// ContextResponse 检索上下文响应
type ContextResponse struct {
	Claim   string `json:"claim"`   // 原始陈述
	Context string `json:"context"` // 格式化的上下文
}

// ContextErrorResponse 检索失败响应
type ContextErrorResponse struct {
	Claim string `json:"claim"` // 原始陈述
	Error string `json:"error"` // 错误信息
	Kind  string `json:"kind"`  // 错误类别
}

// IndexInfo 当前索引快照信息
type IndexInfo struct {
	Generation   string                       `json:"generation"`
	ModelID      string                       `json:"model_id"`
	Dimension    int                          `json:"dimension"`
	RecordCount  int                          `json:"record_count"`
	ChunkSize    int                          `json:"chunk_size"`
	ChunkOverlap int                          `json:"chunk_overlap"`
	SourceIDs    []string                     `json:"source_ids"`
	Documents    map[string]map[string]string `json:"documents,omitempty"`
	Searcher     string                       `json:"searcher"`
}

// NewIndexInfo 由索引元数据创建响应
func NewIndexInfo(info vectordb.Info, searcher string) IndexInfo {
	sources := info.SourceIDs
	if sources == nil {
		sources = []string{}
	}
	return IndexInfo{
		Generation:   info.Generation,
		ModelID:      info.ModelID,
		Dimension:    info.Dimension,
		RecordCount:  info.RecordCount,
		ChunkSize:    info.ChunkSize,
		ChunkOverlap: info.ChunkOverlap,
		SourceIDs:    sources,
		Documents:    info.Documents,
		Searcher:     searcher,
	}
}

// BuildInfo 同步构建结果
type BuildInfo struct {
	Generation string  `json:"generation"`
	SourceID   string  `json:"source_id"`
	Pages      int     `json:"pages"`
	Chunks     int     `json:"chunks"`
	ModelID    string  `json:"model_id"`
	Dimension  int     `json:"dimension"`
	DurationMS float64 `json:"duration_ms"`
}

// NewBuildInfo 由构建结果创建响应
func NewBuildInfo(r *services.BuildResult) BuildInfo {
	return BuildInfo{
		Generation: r.Generation,
		SourceID:   r.SourceID,
		Pages:      r.Pages,
		Chunks:     r.Chunks,
		ModelID:    r.ModelID,
		Dimension:  r.Dimension,
		DurationMS: float64(r.Duration) / float64(time.Millisecond),
	}
}

// TaskInfo 任务状态响应
type TaskInfo struct {
	TaskID      string          `json:"task_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewTaskInfo 由队列任务创建响应
func NewTaskInfo(t *taskqueue.Task) TaskInfo {
	info := TaskInfo{
		TaskID:      t.ID,
		Type:        string(t.Type),
		Status:      string(t.Status),
		Error:       t.Error,
		ErrorKind:   t.ErrorKind,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
	if len(t.Result) > 0 && string(t.Result) != "null" {
		info.Result = t.Result
	}
	return info
}
