package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/truthlens-rag/api/middleware"
	"github.com/fyerfyer/truthlens-rag/api/model"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/services"
	"github.com/fyerfyer/truthlens-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理重建任务的状态查询
type TaskHandler struct {
	queue     taskqueue.Queue            // 任务队列
	retrieval *services.RetrievalService // 检索服务
	logger    *logrus.Logger             // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue, retrieval *services.RetrievalService) *TaskHandler {
	return &TaskHandler{
		queue:     queue,
		retrieval: retrieval,
		logger:    middleware.GetLogger(),
	}
}

// GetTask 查询任务状态
// 任务已完成且产生了比当前快照更新的构建代时重新加载索引
// GET /api/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	var req model.TaskRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.BindingError(err))
		return
	}

	ctx := c.Request.Context()
	task, err := h.queue.GetTask(ctx, req.ID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			middleware.HandleError(c, models.NewError(models.KindInvalidArgument, "unknown task "+req.ID, err))
			return
		}
		middleware.HandleError(c, err)
		return
	}

	if task.Status == taskqueue.StatusCompleted {
		h.reloadIfNewer(c, task)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewTaskInfo(task)))
}

// reloadIfNewer 任务结果的构建代与当前快照不同时重新加载
// 加载失败只记录日志，任务状态照常返回
func (h *TaskHandler) reloadIfNewer(c *gin.Context, task *taskqueue.Task) {
	var result taskqueue.BuildResult
	if err := taskqueue.UnmarshalPayload(task.Result, &result); err != nil || result.Generation == "" {
		return
	}
	if idx := h.retrieval.Index(); idx != nil && idx.Generation() >= result.Generation {
		return
	}

	info, err := h.retrieval.Reload(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to reload index after rebuild")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"generation": info.Generation,
	}).Info("Index reloaded after rebuild")
}
