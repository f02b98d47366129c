package api

import (
	"net/http"

	"github.com/fyerfyer/truthlens-rag/api/handler"
	"github.com/fyerfyer/truthlens-rag/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// taskHandler为空时不注册任务查询接口
func SetupRouter(
	contextHandler *handler.ContextHandler,
	indexHandler *handler.IndexHandler,
	taskHandler *handler.TaskHandler,
) *gin.Engine {
	router := gin.New()

	// 追踪ID需要先于日志和错误处理设置
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(middleware.RequestLogger())

	api := router.Group("/api")
	{
		// 检索上下文 - POST /api/context
		api.POST("/context", contextHandler.GetContext)

		indexGroup := api.Group("/index")
		{
			// 当前索引信息 - GET /api/index
			indexGroup.GET("", indexHandler.GetIndex)

			// 重新加载最新构建代 - POST /api/index/reload
			indexGroup.POST("/reload", indexHandler.ReloadIndex)

			// 重建索引 - POST /api/index/rebuild
			indexGroup.POST("/rebuild", indexHandler.RebuildIndex)
		}

		if taskHandler != nil {
			// 任务状态 - GET /api/tasks/:id
			api.GET("/tasks/:id", taskHandler.GetTask)
		}

		// 健康检查 - GET /api/health
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}
