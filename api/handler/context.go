package handler

import (
	"net/http"

	"github.com/fyerfyer/truthlens-rag/api/middleware"
	"github.com/fyerfyer/truthlens-rag/api/model"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextHandler 处理检索上下文请求
type ContextHandler struct {
	retrieval *services.RetrievalService // 检索服务
	logger    *logrus.Logger             // 日志记录器
}

// NewContextHandler 创建检索上下文处理器
func NewContextHandler(retrieval *services.RetrievalService) *ContextHandler {
	return &ContextHandler{
		retrieval: retrieval,
		logger:    middleware.GetLogger(),
	}
}

// GetContext 检索与陈述相关的研究方法上下文
// POST /api/context
func (h *ContextHandler) GetContext(c *gin.Context) {
	var req model.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, req.Claim, middleware.BindingError(err))
		return
	}

	k := h.retrieval.DefaultK()
	if req.K != nil {
		k = *req.K
	}

	text, err := h.retrieval.GetContext(c.Request.Context(), req.Claim, k)
	if err != nil {
		h.fail(c, req.Claim, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"k":                    k,
		middleware.FieldTraceID: c.GetString(middleware.TraceIDKey),
	}).Debug("Context retrieved")

	c.JSON(http.StatusOK, model.ContextResponse{
		Claim:   req.Claim,
		Context: text,
	})
}

// fail 以陈述和错误类别返回失败响应
func (h *ContextHandler) fail(c *gin.Context, claim string, err error) {
	kind := models.KindOf(err)
	status := middleware.StatusForKind(kind)

	entry := h.logger.WithFields(logrus.Fields{
		middleware.FieldKind:    kind,
		middleware.FieldTraceID: c.GetString(middleware.TraceIDKey),
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Failed to retrieve context")
	} else {
		entry.WithError(err).Warn("Context request rejected")
	}

	c.JSON(status, model.ContextErrorResponse{
		Claim: claim,
		Error: err.Error(),
		Kind:  string(kind),
	})
}
