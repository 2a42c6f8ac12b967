package api

import (
	"context"
	"fmt"

	"factorlab/internal/config"
	"factorlab/internal/data"
	"factorlab/internal/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type ApiHandler struct {
	Data   data.Service
	Config config.Config
}

func (m ApiHandler) StartApi(port int) error {
	router := gin.Default()
	router.Use(cors.Default())
	router.Use(blockBots)
	router.Use(m.logRequestMiddleware)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.POST("/backtest", m.backtest)

	return router.Run(fmt.Sprintf(":%d", port))
}

func returnErrorJson(err error, c *gin.Context) {
	returnErrorJsonCode(err, c, 500)
}

func returnErrorJsonCode(err error, c *gin.Context, code int) {
	log := logger.FromContext(c)
	log.Error(err.Error())
	c.AbortWithStatusJSON(code, gin.H{
		"error": err.Error(),
	})
}

func blockBots(c *gin.Context) {
	blockedPaths := map[string]bool{
		"/.env":       true,
		"/info.php":   true,
		"/wp-admin":   true,
		"/robots.txt": true,
	}
	if blockedPaths[c.Request.URL.Path] {
		c.AbortWithStatus(404)
	}
}

func (m ApiHandler) logRequestMiddleware(c *gin.Context) {
	log := logger.New()
	log = log.With(
		"requestPath", c.Request.URL.Path,
	)
	ctx := context.WithValue(c.Request.Context(), logger.ContextKey, log)
	c.Request = c.Request.WithContext(ctx)
	c.Set(logger.ContextKey, log)

	c.Next()
}
