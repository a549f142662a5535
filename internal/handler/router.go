package handler

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"lm-go/internal/controller"
	"lm-go/pkg/mcp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter wires the corpus API and, when mcpServer is non-nil, the MCP
// transport at mcpPath.
func SetupRouter(corpusController *controller.CorpusController, mcpServer *mcp.LMServer, mcpPath string, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(CustomRecoveryMiddleware(logger))
	router.Use(LoggerMiddleware(logger))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "healthy",
			})
		})

		corpora := v1.Group("/corpora")
		{
			corpora.GET("", corpusController.ListCorpora)
			corpora.POST("", corpusController.CreateCorpus)
			corpora.DELETE("/:name", corpusController.DeleteCorpus)
			corpora.POST("/:name/lines", corpusController.AppendLines)
			corpora.POST("/:name/sources", corpusController.AddSources)
			corpora.POST("/:name/score", corpusController.Score)
			corpora.POST("/:name/windows", corpusController.Windows)
			corpora.POST("/:name/estimate", corpusController.Estimate)
			corpora.GET("/:name/stats", corpusController.Stats)
		}
	}

	if mcpServer != nil {
		mcpServer.SetupHTTPRoutes(router, mcpPath)
	}

	return router
}

// LoggerMiddleware logs each request once it has been served, tagged with
// the corpus it addressed.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if name := c.Param("name"); name != "" {
			fields = append(fields, zap.String("corpus", name))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("Request failed", fields...)
			return
		}
		logger.Debug("Request served", fields...)
	}
}

// CustomRecoveryMiddleware turns a handler panic into a 500 with the same
// error body the controllers use.
func CustomRecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("Handler panicked",
				zap.Any("panic", r),
				zap.String("corpus", c.Param("name")),
				zap.String("route", c.FullPath()),
				zap.ByteString("stack", debug.Stack()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal server error",
				"details": fmt.Sprint(r),
			})
		}()
		c.Next()
	}
}
