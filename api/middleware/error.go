package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/truthlens-rag/api/model"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// StatusForKind 将错误类别映射为HTTP状态码
func StatusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindIndexNotFound:
		return http.StatusNotFound
	case models.KindModelMismatch:
		return http.StatusConflict
	case models.KindEmptyCorpus:
		return http.StatusUnprocessableEntity
	case models.KindEmbeddingProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// BindingError 将请求绑定错误转换为InvalidArgument
// 校验失败时列出未通过的字段和规则
func BindingError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if fe.Param() != "" {
				details = append(details, fmt.Sprintf("%s failed on %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			} else {
				details = append(details, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
		}
		return models.Errorf(models.KindInvalidArgument, "invalid request: %s", strings.Join(details, "; "))
	}
	return models.NewError(models.KindInvalidArgument, "invalid request", err)
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					FieldError:   err,
					"stack":      string(debug.Stack()),
					FieldPath:    c.Request.URL.Path,
					FieldTraceID: traceID(c),
				}).Error("Panic recovered in API request")

				resp := model.NewErrorResponse(http.StatusInternalServerError, "An unexpected error occurred")
				resp.Kind = string(models.KindInternal)
				if gin.Mode() == gin.DebugMode {
					resp.Message = fmt.Sprintf("Panic: %v", err)
				}
				resp.TraceID = traceID(c)
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		kind := models.KindOf(err)
		status := StatusForKind(kind)

		entry := log.WithFields(logrus.Fields{
			FieldKind:    kind,
			FieldTraceID: traceID(c),
			FieldPath:    c.Request.URL.Path,
		})
		if status >= http.StatusInternalServerError {
			entry.Error(err.Error())
		} else {
			entry.Warn(err.Error())
		}

		resp := model.NewErrorResponse(status, err.Error())
		resp.Kind = string(kind)
		resp.TraceID = traceID(c)
		c.AbortWithStatusJSON(status, resp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
