package model

import (
	"mime/multipart"
)

// ContextRequest 检索上下文请求
type ContextRequest struct {
	Claim string `json:"claim" binding:"required"`              // 待核查的陈述
	K     *int   `json:"k" binding:"omitempty,min=1,max=100"` // 返回的分块数量，省略时使用默认值
}

// RebuildRequest 索引重建请求
// 上传文件与DocPath二选一，上传的文件先写入文档存储
type RebuildRequest struct {
	DocPath string                `form:"doc_path" json:"doc_path"` // 服务端本地文档路径
	File    *multipart.FileHeader `form:"file" json:"-"`            // 上传的参考文档
	Wait    bool                  `form:"wait" json:"wait"`         // 队列模式下是否等待任务完成
}

// TaskRequest 任务查询请求
type TaskRequest struct {
	ID string `uri:"id" binding:"required"` // 任务ID
}
