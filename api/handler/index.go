package handler

import (
	"net/http"
	"time"

	"github.com/fyerfyer/truthlens-rag/api/middleware"
	"github.com/fyerfyer/truthlens-rag/api/model"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/services"
	"github.com/fyerfyer/truthlens-rag/pkg/storage"
	"github.com/fyerfyer/truthlens-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IndexHandler 处理索引查看、重新加载与重建请求
type IndexHandler struct {
	retrieval   *services.RetrievalService // 检索服务
	builder     *services.BuildService     // 构建服务
	storage     storage.Storage            // 文档存储，可选
	queue       taskqueue.Queue            // 任务队列，为空时同步构建
	location    string                     // 索引目录
	waitTimeout time.Duration              // 等待队列任务的最长时间
	logger      *logrus.Logger             // 日志记录器
}

// IndexOption 索引处理器配置选项
type IndexOption func(*IndexHandler)

// WithDocumentStorage 设置上传文档的存储
func WithDocumentStorage(s storage.Storage) IndexOption {
	return func(h *IndexHandler) {
		h.storage = s
	}
}

// WithQueue 设置任务队列，重建请求改为异步执行
func WithQueue(q taskqueue.Queue, waitTimeout time.Duration) IndexOption {
	return func(h *IndexHandler) {
		h.queue = q
		h.waitTimeout = waitTimeout
	}
}

// NewIndexHandler 创建索引处理器
func NewIndexHandler(retrieval *services.RetrievalService, builder *services.BuildService, location string, opts ...IndexOption) *IndexHandler {
	h := &IndexHandler{
		retrieval: retrieval,
		builder:   builder,
		location:  location,
		logger:    middleware.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetIndex 返回当前索引快照的信息，尚未加载时从存储加载
// GET /api/index
func (h *IndexHandler) GetIndex(c *gin.Context) {
	idx := h.retrieval.Index()
	if idx == nil {
		if _, err := h.retrieval.Reload(c.Request.Context()); err != nil {
			middleware.HandleError(c, err)
			return
		}
		idx = h.retrieval.Index()
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewIndexInfo(idx.Info(), idx.Backend())))
}

// ReloadIndex 从存储读取最新构建代并替换快照
// POST /api/index/reload
func (h *IndexHandler) ReloadIndex(c *gin.Context) {
	info, err := h.retrieval.Reload(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewIndexInfo(info, h.retrieval.Index().Backend())))
}

// RebuildIndex 重建索引
// 请求可以上传参考文档或指定服务端路径；启用队列时返回任务ID
// POST /api/index/rebuild
func (h *IndexHandler) RebuildIndex(c *gin.Context) {
	var req model.RebuildRequest
	var err error
	switch {
	case c.ContentType() == gin.MIMEMultipartPOSTForm:
		err = c.ShouldBind(&req)
	case c.Request.ContentLength > 0:
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		middleware.HandleError(c, middleware.BindingError(err))
		return
	}

	documentID := ""
	if req.File != nil {
		documentID, err = h.saveUpload(&req)
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
	}
	if documentID == "" && req.DocPath == "" {
		middleware.HandleError(c, models.Errorf(models.KindInvalidArgument, "either a file upload or doc_path is required"))
		return
	}

	if h.queue != nil {
		h.enqueue(c, documentID, req)
		return
	}

	ctx := c.Request.Context()
	result, err := h.builder.Build(ctx, services.BuildRequest{
		DocPath:       req.DocPath,
		DocumentID:    documentID,
		IndexLocation: h.location,
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	info, err := h.retrieval.Reload(ctx)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"build": model.NewBuildInfo(result),
		"index": model.NewIndexInfo(info, h.retrieval.Index().Backend()),
	}))
}

// saveUpload 将上传的文档写入文档存储
func (h *IndexHandler) saveUpload(req *model.RebuildRequest) (string, error) {
	if h.storage == nil {
		return "", models.Errorf(models.KindConfiguration, "document storage is not configured")
	}

	file, err := req.File.Open()
	if err != nil {
		return "", models.NewError(models.KindInvalidArgument, "failed to read uploaded file", err)
	}
	defer file.Close()

	info, err := h.storage.Save(file, req.File.Filename)
	if err != nil {
		return "", err
	}

	h.logger.WithFields(logrus.Fields{
		"document_id": info.ID,
		"filename":    info.Name,
		"size":        info.Size,
	}).Info("Reference document uploaded")
	return info.ID, nil
}

// enqueue 将重建任务加入队列，wait为真时等待任务结束并重新加载索引
func (h *IndexHandler) enqueue(c *gin.Context, documentID string, req model.RebuildRequest) {
	ctx := c.Request.Context()
	taskID, err := h.queue.Enqueue(ctx, taskqueue.TaskIndexBuild, &taskqueue.BuildPayload{
		DocumentID:    documentID,
		DocPath:       req.DocPath,
		IndexLocation: h.location,
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":     taskID,
		"document_id": documentID,
		"doc_path":    req.DocPath,
	}).Info("Index rebuild queued")

	if !req.Wait {
		task, err := h.queue.GetTask(ctx, taskID)
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.NewTaskInfo(task)))
		return
	}

	task, err := h.queue.WaitForTask(ctx, taskID, h.waitTimeout)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	if task.Status == taskqueue.StatusCompleted {
		if _, err := h.retrieval.Reload(ctx); err != nil {
			middleware.HandleError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewTaskInfo(task)))
}
